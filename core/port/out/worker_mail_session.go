package out

import (
	"context"
	"iter"

	"vitalred_worker/core/domain"
)

// MailSession is an authenticated webmail session. One live session owns one
// browser process; Close must always be called.
type MailSession interface {
	Authenticate(ctx context.Context, creds domain.Credentials) error

	// ListMessageIDs yields up to max handles, deduplicated. Each call starts
	// a fresh enumeration.
	ListMessageIDs(ctx context.Context, max int) iter.Seq2[domain.RawMessageHandle, error]

	FetchMessage(ctx context.Context, handle domain.RawMessageHandle) (string, error)
	FetchAttachment(ctx context.Context, downloadURL string) ([]byte, error)
	Close() error
}

// MailSessionFactory opens a new MailSession for every extraction session.
type MailSessionFactory interface {
	Open(ctx context.Context) (MailSession, error)
}

// MailSessionFactoryFunc adapts a function to MailSessionFactory.
type MailSessionFactoryFunc func(ctx context.Context) (MailSession, error)

func (f MailSessionFactoryFunc) Open(ctx context.Context) (MailSession, error) {
	return f(ctx)
}
