// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package publish

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/newsgate/newsgate/internal/logging"
)

// wmLogger adapts the process zerolog logger to watermill's LoggerAdapter so
// the message bus logs through the same sink as everything else.
type wmLogger struct {
	logger zerolog.Logger
}

// NewWatermillLogger returns a watermill adapter over the global logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{logger: logging.With().Str("component", "watermill").Logger()}
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), fields).Msg(msg)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &wmLogger{logger: ctx.Logger()}
}

func (l *wmLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
