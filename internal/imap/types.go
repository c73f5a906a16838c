package imap

import "time"

// MessageSummary is an envelope-only view of a pending message.
type MessageSummary struct {
	UID     uint32
	Subject string
	From    string
	Date    time.Time
	Size    uint32
	Flags   []string
}

// fetched is a raw message pulled during one session.
type fetched struct {
	uid          uint32
	internalDate time.Time
	raw          []byte
}
