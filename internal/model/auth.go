package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are JWT claims carrying an opaque user identity
type UserClaims struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// Identity is the resolved user behind a connection or request
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// GuestRequest is the request body for issuing a guest identity
type GuestRequest struct {
	DisplayName string `json:"displayName"`
}

// GuestResponse is returned after a guest identity is issued
type GuestResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}
