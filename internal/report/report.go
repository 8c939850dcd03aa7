// Package report renders sweep summaries and ships them to sinks.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
)

// Content types of the rendered artifacts.
const (
	ContentTypeJSON = "application/json"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Sink stores one rendered artifact under name.
type Sink interface {
	Put(ctx context.Context, name, contentType string, body []byte) error
}

// Publisher renders a summary and writes it to every sink. It satisfies
// sweep.Publisher.
type Publisher struct {
	sinks []Sink
	xlsx  bool
}

// NewPublisher creates a Publisher. When withXLSX is set every summary is
// also rendered as a workbook.
func NewPublisher(withXLSX bool, sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, xlsx: withXLSX}
}

// Publish writes <run id>.json, and <run id>.xlsx when enabled, to every
// sink. A failing sink does not stop the others.
func (p *Publisher) Publish(ctx context.Context, s *sweep.Summary) error {
	if s == nil || len(p.sinks) == 0 {
		return nil
	}

	type artifact struct {
		name, contentType string
		body              []byte
	}

	js, err := MarshalJSON(s)
	if err != nil {
		return err
	}
	artifacts := []artifact{{s.RunID + ".json", ContentTypeJSON, js}}

	if p.xlsx {
		var buf bytes.Buffer
		if err := WriteXLSX(&buf, s); err != nil {
			return err
		}
		artifacts = append(artifacts, artifact{s.RunID + ".xlsx", ContentTypeXLSX, buf.Bytes()})
	}

	var errs []error
	for _, sink := range p.sinks {
		for _, a := range artifacts {
			if err := sink.Put(ctx, a.name, a.contentType, a.body); err != nil {
				errs = append(errs, eris.Wrapf(err, "report: put %s", a.name))
				continue
			}
			zap.L().Debug("report: artifact written", zap.String("name", a.name), zap.Int("bytes", len(a.body)))
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON renders the summary as indented JSON.
func MarshalJSON(s *sweep.Summary) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal summary")
	}
	return append(b, '\n'), nil
}
