package postman

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/postman/store"
)

// ErrIteratorOutOfBounds is returned when Message is called without a
// successful Next.
var ErrIteratorOutOfBounds = errors.New("postman: iterator out of bounds - call Next() first")

// MessageIterator walks a folder page by page.
//
// Pages are fetched by offset, so records that enter or leave the folder
// while iterating can be skipped or seen twice. Use the folder listings
// when totals matter.
//
// MessageIterator is not safe for concurrent use.
type MessageIterator interface {
	// Next advances to the next record. It returns (false, nil) once the
	// folder is exhausted.
	Next(ctx context.Context) (bool, error)

	// Message returns the current record.
	Message() (*Message, error)
}

// StreamOptions configures streaming.
type StreamOptions struct {
	// BatchSize is the number of records fetched per page, capped by the
	// service's maximum query limit. Default: the maximum query limit.
	BatchSize int
}

type folderIterator struct {
	mailbox *userMailbox
	query   store.Query
	batch   []*Message
	idx     int
	done    bool
}

// Stream returns an iterator over one of the inbox, sent, archives or
// trash folders. Threads are listed with Thread, which also marks them read.
func (m *userMailbox) Stream(ctx context.Context, folder store.Folder, opts StreamOptions) (MessageIterator, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if !folder.IsValid() || folder == store.FolderThread {
		return nil, fmt.Errorf("%w: cannot stream folder %q", store.ErrFilterInvalid, folder)
	}

	size := m.service.opts.maxQueryLimit
	if opts.BatchSize > 0 && opts.BatchSize < size {
		size = opts.BatchSize
	}
	return &folderIterator{
		mailbox: m,
		query:   store.Query{Folder: folder, Options: ListOptions{Limit: size}},
	}, nil
}

func (it *folderIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}
	if it.idx < len(it.batch) {
		it.idx++
		return true, nil
	}

	// Current page consumed; an incomplete page was the last one.
	if it.batch != nil && len(it.batch) < it.query.Options.Limit {
		it.done = true
		return false, nil
	}

	list, err := it.mailbox.list(ctx, it.query)
	if err != nil {
		it.done = true
		return false, err
	}
	it.query.Options.Offset += len(list.Messages)
	it.batch = list.Messages
	it.idx = 0
	if len(it.batch) == 0 {
		it.done = true
		return false, nil
	}
	it.idx = 1
	return true, nil
}

func (it *folderIterator) Message() (*Message, error) {
	if it.idx <= 0 || it.idx > len(it.batch) {
		return nil, ErrIteratorOutOfBounds
	}
	return it.batch[it.idx-1], nil
}
