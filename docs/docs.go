// Package docs registers the REST API description served at /swagger/doc.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/guest": {
            "post": {
                "summary": "Issue a guest identity token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/GuestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/GuestResponse"}},
                    "400": {"description": "Invalid display name"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "summary": "Resolve the caller's identity",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Identity"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/races": {
            "post": {
                "summary": "Create a waiting race room",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "schema": {"$ref": "#/definitions/RaceSettings"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Invalid settings"}
                }
            }
        },
        "/races/{raceId}": {
            "get": {
                "summary": "Live or last cached race snapshot",
                "produces": ["application/json"],
                "parameters": [{"in": "path", "name": "raceId", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Race not found"}
                }
            }
        },
        "/races/{raceId}/results": {
            "get": {
                "summary": "Stored participant results for a race",
                "produces": ["application/json"],
                "parameters": [{"in": "path", "name": "raceId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/races/{raceId}/standings": {
            "get": {
                "summary": "Finish standings for a race",
                "produces": ["application/json"],
                "parameters": [{"in": "path", "name": "raceId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/lobby": {
            "get": {
                "summary": "Rooms visible in the lobby",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/queue": {
            "get": {
                "summary": "Matchmaking queue statistics",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/leaderboard": {
            "get": {
                "summary": "Best WPM across all races",
                "produces": ["application/json"],
                "parameters": [{"in": "query", "name": "top", "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid top"}}
            }
        },
        "/users/{userId}/history": {
            "get": {
                "summary": "Recent race results for a user",
                "produces": ["application/json"],
                "parameters": [{"in": "path", "name": "userId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ws": {
            "get": {
                "summary": "Upgrade to the realtime race protocol",
                "parameters": [{"in": "query", "name": "token", "type": "string"}],
                "responses": {"101": {"description": "Switching Protocols"}, "401": {"description": "Invalid token"}}
            }
        }
    },
    "definitions": {
        "GuestRequest": {
            "type": "object",
            "properties": {"displayName": {"type": "string"}}
        },
        "GuestResponse": {
            "type": "object",
            "properties": {
                "userId": {"type": "string"},
                "displayName": {"type": "string"},
                "token": {"type": "string"}
            }
        },
        "Identity": {
            "type": "object",
            "properties": {
                "userId": {"type": "string"},
                "displayName": {"type": "string"}
            }
        },
        "RaceSettings": {
            "type": "object",
            "properties": {
                "maxPlayers": {"type": "integer"},
                "category": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "Typerace API",
	Description:      "Realtime multiplayer typing races",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
