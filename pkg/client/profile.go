package client

import (
	"context"
	"sync"

	"github.com/rubiojr/pulse/pkg/log"
)

// ProfileViewResult is the server's answer to a profile view.
type ProfileViewResult struct {
	ProfileUserID     string `json:"profileUserId,omitempty"`
	ProfileViewsTotal int64  `json:"profileViewsTotal,omitempty"`
	Skipped           bool   `json:"skipped,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// ProfileViewSender delivers one profile view.
type ProfileViewSender interface {
	SendProfileView(ctx context.Context, profileUserID string) (ProfileViewResult, error)
}

// ProfileViewRecorder fires at most one view per displayed profile. The latch
// is set before the request goes out and is reset only when a different
// profile is shown. Failed requests are not retried.
type ProfileViewRecorder struct {
	mu       sync.Mutex
	sender   ProfileViewSender
	profile  string
	fired    bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	onResult func(ProfileViewResult, error)
	logger   *log.Logger
}

// NewProfileViewRecorder returns a recorder. onResult, if set, receives the
// outcome of every request so a cached total can be reconciled.
func NewProfileViewRecorder(sender ProfileViewSender, onResult func(ProfileViewResult, error)) *ProfileViewRecorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProfileViewRecorder{
		sender:   sender,
		ctx:      ctx,
		cancel:   cancel,
		onResult: onResult,
		logger:   log.ForService("client"),
	}
}

// View is called whenever profileUserID is displayed. It reports whether a
// request was sent.
func (p *ProfileViewRecorder) View(profileUserID string) bool {
	p.mu.Lock()
	if p.closed || profileUserID == "" {
		p.mu.Unlock()
		return false
	}
	if profileUserID != p.profile {
		p.profile = profileUserID
		p.fired = false
	}
	if p.fired {
		p.mu.Unlock()
		return false
	}
	p.fired = true
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()
		res, err := p.sender.SendProfileView(p.ctx, profileUserID)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warnf("Profile view for %s failed: %v", profileUserID, err)
		}
		if p.onResult != nil {
			p.onResult(res, err)
		}
	}()
	return true
}

// Wait blocks until in-flight requests return.
func (p *ProfileViewRecorder) Wait() {
	p.inflight.Wait()
}

// Close ignores any in-flight result and disables the recorder.
func (p *ProfileViewRecorder) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}
