// Copyright © 2018 One Concern

package notify

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/oneconcern/refdb/pkg/model"
)

const natsName = "nats"

// Publisher sends messages on a subject. A *nats.Conn is a Publisher.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes change events as JSON messages on a subject.
//
// The subject is suffixed with the repository name, e.g. "refdb.changes.<repository>", so consumers
// may subscribe to one repository or to all of them with a wildcard.
type NATS struct {
	publisher Publisher
	subject   string
}

// NewNATS builds a listener publishing events on a subject prefix
func NewNATS(publisher Publisher, subject string) *NATS {
	return &NATS{
		publisher: publisher,
		subject:   subject,
	}
}

// ConnectNATS connects to a NATS server and builds a listener on this connection.
//
// The returned function drains and closes the connection.
func ConnectNATS(url, subject string, opts ...nats.Option) (*NATS, func(), error) {
	conn, err := nats.Connect(url, append([]nats.Option{nats.Name("refdb")}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return NewNATS(conn, subject), func() { _ = conn.Drain() }, nil
}

// Name of the NATS listener
func (n *NATS) Name() string {
	return natsName
}

// Subject on which events of a repository are published
func (n *NATS) Subject(repository string) string {
	if repository == "" {
		return n.subject
	}
	return n.subject + "." + repository
}

// OnChange publishes the event
func (n *NATS) OnChange(_ context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.publisher.Publish(n.Subject(ev.Repository), payload)
}
