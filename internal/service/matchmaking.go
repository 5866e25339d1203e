package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
	"typerace/internal/model"
)

type MatchmakingConfig struct {
	GroupSize          int
	BaseTolerance      float64
	TolerancePerSecond float64
	MaxTolerance       float64
	EntryTimeout       time.Duration
	ScanInterval       time.Duration
}

// MatchNotifier delivers queue outcomes to the connection that queued
type MatchNotifier interface {
	NotifyMatched(connID, raceID string, entry model.QueueEntry)
	NotifyQueueTimeout(connID string, entry model.QueueEntry)
}

// MatchedRoomFactory creates a room for a matched group
type MatchedRoomFactory interface {
	CreateMatched(ctx context.Context, entries []model.QueueEntry) (*RaceRoom, error)
}

type queuedEntry struct {
	entry model.QueueEntry
	timer *time.Timer
}

// Matchmaker is the in-memory waiting pool. Entries are kept in joinedAt
// order; notifications are delivered after the queue lock is released.
type Matchmaker struct {
	mu     sync.Mutex
	queue  []*queuedEntry
	byUser map[string]*queuedEntry

	rooms    MatchedRoomFactory
	notifier MatchNotifier
	cfg      MatchmakingConfig
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMatchmaker(cfg MatchmakingConfig, rooms MatchedRoomFactory, logger *slog.Logger) *Matchmaker {
	if cfg.GroupSize < 2 {
		cfg.GroupSize = 2
	}
	return &Matchmaker{
		byUser: make(map[string]*queuedEntry),
		rooms:  rooms,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// SetNotifier wires the connection layer
func (m *Matchmaker) SetNotifier(n MatchNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Enqueue adds an entry without scanning and returns its 1-based position
func (m *Matchmaker) Enqueue(entry model.QueueEntry) (int, error) {
	if entry.UserID == "" {
		return 0, fmt.Errorf("%w: userId is required", ErrInvalidQueueEntry)
	}
	if math.IsNaN(entry.AverageWpm) || entry.AverageWpm < 0 {
		return 0, fmt.Errorf("%w: averageWpm %v", ErrInvalidQueueEntry, entry.AverageWpm)
	}
	if entry.DisplayName == "" {
		entry.DisplayName = entry.UserID
	}
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[entry.UserID]; ok {
		return 0, ErrAlreadyQueued
	}
	q := &queuedEntry{entry: entry}
	m.insertLocked(q, m.cfg.EntryTimeout)

	m.logger.Info("user queued", "user_id", entry.UserID, "average_wpm", entry.AverageWpm, "waiting", len(m.queue))
	return m.positionLocked(entry.UserID), nil
}

// Join enqueues and immediately scans for a match
func (m *Matchmaker) Join(ctx context.Context, entry model.QueueEntry) (int, error) {
	pos, err := m.Enqueue(entry)
	if err != nil {
		return 0, err
	}
	m.Scan(ctx)
	return pos, nil
}

// Leave removes a user from the queue
func (m *Matchmaker) Leave(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.byUser[userID]
	if !ok {
		return ErrNotQueued
	}
	m.removeLocked(q)
	m.logger.Info("user left queue", "user_id", userID)
	return nil
}

// LeaveConn drops every entry queued through the connection
func (m *Matchmaker) LeaveConn(connID string) {
	if connID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range append([]*queuedEntry(nil), m.queue...) {
		if q.entry.ConnID == connID {
			m.removeLocked(q)
		}
	}
}

// Position returns the user's 1-based place in the queue, or 0
func (m *Matchmaker) Position(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionLocked(userID)
}

func (m *Matchmaker) Stats() model.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := model.QueueStats{Waiting: len(m.queue), GroupSize: m.cfg.GroupSize}
	if len(m.queue) > 0 {
		stats.OldestSec = time.Since(m.queue[0].entry.JoinedAt).Seconds()
	}
	return stats
}

// Scan forms as many groups as the queue allows, creates a room for each
// and notifies the members. Returns the ids of the rooms created.
func (m *Matchmaker) Scan(ctx context.Context) []string {
	m.mu.Lock()
	groups := m.takeGroupsLocked(time.Now())
	notifier := m.notifier
	m.mu.Unlock()

	var raceIDs []string
	for _, group := range groups {
		room, err := m.rooms.CreateMatched(ctx, group)
		if err != nil {
			m.logger.Error("failed to create matched race, requeueing", "players", len(group), "error", err)
			m.requeue(group)
			continue
		}

		raceIDs = append(raceIDs, room.ID())
		m.logger.Info("queue match formed", "race_id", room.ID(), "players", len(group))
		if notifier == nil {
			continue
		}
		for _, e := range group {
			notifier.NotifyMatched(e.ConnID, room.ID(), e)
		}
	}
	return raceIDs
}

// Start runs a periodic scan so widening tolerance can form matches without
// new queue mutations
func (m *Matchmaker) Start(ctx context.Context) {
	if m.cfg.ScanInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Scan(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the scan loop and cancels every pending timeout
func (m *Matchmaker) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queue {
		if q.timer != nil {
			q.timer.Stop()
		}
	}
}

func (m *Matchmaker) tolerance(waited time.Duration) float64 {
	t := m.cfg.BaseTolerance + m.cfg.TolerancePerSecond*waited.Seconds()
	if m.cfg.MaxTolerance > 0 && t > m.cfg.MaxTolerance {
		t = m.cfg.MaxTolerance
	}
	return t
}

// takeGroupsLocked walks the queue oldest first. Each remaining entry anchors
// a candidate group of the entries within its tolerance band.
func (m *Matchmaker) takeGroupsLocked(now time.Time) [][]model.QueueEntry {
	var groups [][]model.QueueEntry

	for {
		group := m.findGroupLocked(now)
		if group == nil {
			return groups
		}
		entries := make([]model.QueueEntry, 0, len(group))
		for _, q := range group {
			m.removeLocked(q)
			entries = append(entries, q.entry)
		}
		groups = append(groups, entries)
	}
}

func (m *Matchmaker) findGroupLocked(now time.Time) []*queuedEntry {
	size := m.cfg.GroupSize
	if len(m.queue) < size {
		return nil
	}

	for i, anchor := range m.queue {
		band := m.tolerance(now.Sub(anchor.entry.JoinedAt))
		group := []*queuedEntry{anchor}
		for j, other := range m.queue {
			if j == i {
				continue
			}
			if math.Abs(other.entry.AverageWpm-anchor.entry.AverageWpm) <= band {
				group = append(group, other)
				if len(group) == size {
					sort.SliceStable(group, func(a, b int) bool {
						return group[a].entry.JoinedAt.Before(group[b].entry.JoinedAt)
					})
					return group
				}
			}
		}
	}
	return nil
}

func (m *Matchmaker) requeue(entries []model.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if _, ok := m.byUser[e.UserID]; ok {
			continue
		}
		remaining := m.cfg.EntryTimeout - now.Sub(e.JoinedAt)
		if m.cfg.EntryTimeout > 0 && remaining <= 0 {
			remaining = time.Millisecond
		}
		m.insertLocked(&queuedEntry{entry: e}, remaining)
	}
}

// insertLocked places q in joinedAt order and arms its timeout
func (m *Matchmaker) insertLocked(q *queuedEntry, timeout time.Duration) {
	i := sort.Search(len(m.queue), func(i int) bool {
		return m.queue[i].entry.JoinedAt.After(q.entry.JoinedAt)
	})
	m.queue = append(m.queue, nil)
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = q
	m.byUser[q.entry.UserID] = q

	if timeout > 0 {
		q.timer = time.AfterFunc(timeout, func() { m.expire(q) })
	}
}

func (m *Matchmaker) removeLocked(q *queuedEntry) {
	if q.timer != nil {
		q.timer.Stop()
	}
	delete(m.byUser, q.entry.UserID)
	for i, other := range m.queue {
		if other == q {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Matchmaker) expire(q *queuedEntry) {
	m.mu.Lock()
	if m.byUser[q.entry.UserID] != q {
		m.mu.Unlock()
		return
	}
	m.removeLocked(q)
	notifier := m.notifier
	m.mu.Unlock()

	m.logger.Info("queue entry timed out", "user_id", q.entry.UserID)
	if notifier != nil {
		notifier.NotifyQueueTimeout(q.entry.ConnID, q.entry)
	}
}

func (m *Matchmaker) positionLocked(userID string) int {
	for i, q := range m.queue {
		if q.entry.UserID == userID {
			return i + 1
		}
	}
	return 0
}
