// Package docs 由 swag 生成（swag init -g cmd/storyd/main.go），注释变更后重新生成
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/feed": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["快拍"],
                "summary": "快拍流",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/stories": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["快拍"],
                "summary": "发布快拍",
                "parameters": [
                    {"type": "file", "description": "图片或视频", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "文案", "name": "caption", "in": "formData"},
                    {"type": "string", "default": "public", "description": "public | followers | close_friends | custom", "name": "privacy", "in": "formData"},
                    {"type": "integer", "default": 24, "description": "展示时长（小时）", "name": "duration_hours", "in": "formData"},
                    {"type": "string", "description": "互动贴纸 JSON 数组", "name": "elements", "in": "formData"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/stories/{story_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["快拍"],
                "summary": "获取快拍",
                "parameters": [{"type": "string", "description": "快拍ID", "name": "story_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["快拍"],
                "summary": "删除快拍",
                "parameters": [{"type": "string", "description": "快拍ID", "name": "story_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/stories/{story_id}/views": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["互动"],
                "summary": "记录观看",
                "parameters": [{"type": "string", "description": "快拍ID", "name": "story_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/{user_id}/follow": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "关注用户",
                "parameters": [{"type": "string", "description": "被关注用户ID", "name": "user_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Storyline API",
	Description:      "Ephemeral stories: upload, feed, views, reactions, highlights.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
