package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDo_SingleWriterPerAddress(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 0)
	defer sys.Close()

	// contador sem lock: só é seguro se os turnos nunca se sobrepõem
	counter := 0
	inTurn := false

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sys.Do(context.Background(), "wallet:u1", func(ctx context.Context) error {
				require.False(t, inTurn, "turn overlapped another turn on the same address")
				inTurn = true
				counter++
				inTurn = false
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestDo_DifferentAddressesRunIndependently(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 0)
	defer sys.Close()

	blockA := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = sys.Do(context.Background(), "bet:a", func(ctx context.Context) error {
			close(started)
			<-blockA
			return nil
		})
	}()
	<-started

	// outro endereço não espera o turno de "bet:a"
	done := make(chan struct{})
	go func() {
		_ = sys.Do(context.Background(), "bet:b", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent address blocked by busy address")
	}
	close(blockA)
}

func TestDo_PropagatesError(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 0)
	defer sys.Close()

	boom := errors.New("boom")
	err := sys.Do(context.Background(), "x", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestDo_ExpiredContext(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 0)
	defer sys.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sys.Do(ctx, "x", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_AfterClose(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 0)
	sys.Close()

	err := sys.Do(context.Background(), "x", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrSystemClosed)
}

func TestIdleMailboxDeactivates(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 20*time.Millisecond)
	defer sys.Close()

	var mu sync.Mutex
	var deactivated []string
	sys.OnDeactivate = func(addr string) {
		mu.Lock()
		deactivated = append(deactivated, addr)
		mu.Unlock()
	}

	require.NoError(t, sys.Do(context.Background(), "bet:b1", func(ctx context.Context) error { return nil }))

	// endereço ocioso é desativado e sai do registro
	require.Eventually(t, func() bool {
		sys.mu.Lock()
		defer sys.mu.Unlock()
		return len(sys.boxes) == 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"bet:b1"}, deactivated)
	mu.Unlock()

	// a próxima mensagem reativa o mesmo endereço normalmente
	require.NoError(t, sys.Do(context.Background(), "bet:b1", func(ctx context.Context) error { return nil }))
}

func TestBusyMailboxIsNotDeactivated(t *testing.T) {
	sys := NewSystem(zap.NewNop(), 16, 20*time.Millisecond)
	defer sys.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = sys.Do(context.Background(), "bet:busy", func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// bem além do timeout de ociosidade, o ator ocupado continua registrado
	time.Sleep(100 * time.Millisecond)
	sys.mu.Lock()
	_, ok := sys.boxes["bet:busy"]
	sys.mu.Unlock()
	assert.True(t, ok)
	close(block)
}
