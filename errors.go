/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Command failures reported back to the offending client. Each maps to a
// unicast error message; room state is never mutated on the failing path.
var (
	errMalformedInput  = errors.New("message is not valid JSON")
	errSchemaViolation = errors.New("message does not match any known command")
	errMissingIdentity = errors.New("join requires a client id")
	errNotJoined       = errors.New("join the room before sending commands")
	errNotAuthorized   = errors.New("only the host may do that")
	errUnknownRole     = errors.New("unknown role key")
	errQuotaMismatch   = errors.New("configured role count does not match player count")
	errNoReadyPlayers  = errors.New("no players are ready")
	errAlreadyAssigned = errors.New("roles are already dealt; reset first")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
