package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	now time.Time
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *BreakerSuite) breaker(opts ...Option) *Breaker {
	return New("chain-rpc", append([]Option{WithClock(func() time.Time { return s.now })}, opts...)...)
}

func (s *BreakerSuite) TestStartsClosed() {
	b := s.breaker()
	s.Equal("chain-rpc", b.Name())
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestOpening() {
	s.Run("opens on the threshold failure only", func() {
		b := s.breaker(WithFailureThreshold(3))
		for i := 0; i < 2; i++ {
			open, change := b.RecordFailure()
			s.False(open)
			s.False(change.Opened)
		}
		open, change := b.RecordFailure()
		s.True(open)
		s.True(change.Opened)
		s.True(b.IsOpen())

		open, change = b.RecordFailure()
		s.True(open)
		s.False(change.Opened, "already open")
	})

	s.Run("failures must be consecutive", func() {
		b := s.breaker(WithFailureThreshold(3))
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordFailure()
		s.False(b.IsOpen())
		b.RecordFailure()
		s.True(b.IsOpen())
	})
}

func (s *BreakerSuite) TestClosing() {
	s.Run("needs consecutive successes", func() {
		b := s.breaker(WithFailureThreshold(1), WithSuccessThreshold(3))
		b.RecordFailure()

		b.RecordSuccess()
		b.RecordSuccess()
		b.RecordFailure()
		s.True(b.IsOpen(), "failure resets the success streak")

		b.RecordSuccess()
		closed, change := b.RecordSuccess()
		s.False(closed)
		s.False(change.Closed)
		closed, change = b.RecordSuccess()
		s.True(closed)
		s.True(change.Closed)
		s.Equal(StateClosed, b.State())
	})

	s.Run("reset", func() {
		b := s.breaker(WithFailureThreshold(1))
		b.RecordFailure()
		b.Reset()
		s.Equal(StateClosed, b.State())
		s.True(b.Allow())
	})
}

func (s *BreakerSuite) TestAllowsOneTrialCallPerCooldown() {
	b := s.breaker(WithFailureThreshold(1), WithCooldown(10*time.Second))
	b.RecordFailure()
	s.False(b.Allow())

	s.now = s.now.Add(10 * time.Second)
	s.True(b.Allow(), "trial call after cooldown")
	s.False(b.Allow(), "one trial call per cooldown")

	b.RecordFailure()
	s.now = s.now.Add(5 * time.Second)
	s.False(b.Allow())
	s.now = s.now.Add(5 * time.Second)
	s.True(b.Allow())

	b.RecordSuccess()
	s.False(b.IsOpen())
	s.True(b.Allow())
}
