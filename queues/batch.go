package queues

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ItemError records why a single message of a batch could not be handled.
type ItemError struct {
	Index     int
	MessageID string
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("message %d (%s): %v", e.Index, e.MessageID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// BatchResult accumulates per-item outcomes of a batch. Failed items are
// candidates for redelivery; dropped items were malformed and must not be
// retried.
type BatchResult struct {
	Size      int
	Processed int
	Dropped   []*ItemError
	Failed    []*ItemError
}

func NewBatchResult(size int) *BatchResult {
	return &BatchResult{Size: size}
}

func (r *BatchResult) Succeed() {
	r.Processed++
}

func (r *BatchResult) Drop(index int, msg *Message, err error) {
	r.Dropped = append(r.Dropped, &ItemError{Index: index, MessageID: messageID(msg), Err: err})
}

func (r *BatchResult) Fail(index int, msg *Message, err error) {
	r.Failed = append(r.Failed, &ItemError{Index: index, MessageID: messageID(msg), Err: err})
}

// IsFailed reports whether the message with the given id failed in this batch.
func (r *BatchResult) IsFailed(id string) bool {
	for _, f := range r.Failed {
		if f.MessageID == id {
			return true
		}
	}
	return false
}

// Err surfaces the batch failure: nil when every item was handled, the item
// error itself when exactly one failed, and an aggregate otherwise.
func (r *BatchResult) Err() error {
	switch len(r.Failed) {
	case 0:
		return nil
	case 1:
		return r.Failed[0]
	}
	var merr *multierror.Error
	for _, f := range r.Failed {
		merr = multierror.Append(merr, f)
	}
	return merr
}

func messageID(msg *Message) string {
	if msg == nil {
		return ""
	}
	return msg.ID
}
