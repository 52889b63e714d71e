package http

import (
	_ "embed"

	"github.com/swaggo/swag"
)

// swagger.json mirrors the godoc annotations on the handlers and is kept
// in sync with them by hand.
//
//go:embed swagger.json
var docTemplate string

// SwaggerInfo is served at /swagger/doc.json.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "DietGuard Identity API",
	Description:      "Accounts, tokens, subscription plans and the daily upload quota.",
	InfoInstanceName: swag.Name,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
