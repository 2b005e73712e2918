package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSystemClosed = errors.New("actor system closed")
)

const defaultIdleTimeout = 5 * time.Minute

// System gerencia mailboxes endereçáveis. Cada endereço é drenado por
// exatamente uma goroutine, processando um turno por vez em ordem de
// chegada: o invariante single-writer sem locks no estado do ator.
// Mailboxes são criadas sob demanda na primeira mensagem (ativação) e
// desativadas após ficarem ociosas; a próxima mensagem reativa.
type System struct {
	log  *zap.Logger
	size int
	idle time.Duration

	// OnDeactivate é chamado após a desativação de um endereço ocioso;
	// deve ser definido antes do primeiro Do
	OnDeactivate func(address string)

	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed bool
	wg     sync.WaitGroup
}

type turn struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type mailbox struct {
	ch chan turn

	// remetentes entre o box() e o envio; guardado por System.mu.
	// O reaper só desativa com waiting zero e canal vazio.
	waiting int
}

// NewSystem cria o runtime de atores; mailboxSize é o buffer de cada
// mailbox e idleTimeout o tempo de ociosidade até a desativação
func NewSystem(log *zap.Logger, mailboxSize int, idleTimeout time.Duration) *System {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &System{
		log:   log,
		size:  mailboxSize,
		idle:  idleTimeout,
		boxes: make(map[string]*mailbox),
	}
}

// Do enfileira um turno no endereço e aguarda sua conclusão.
// O turno roda na goroutine exclusiva do endereço; enquanto roda,
// nenhuma outra mensagem para o mesmo endereço é processada
// (reentrância desabilitada).
func (s *System) Do(ctx context.Context, address string, fn func(context.Context) error) error {
	box, err := s.box(address)
	if err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		box.waiting--
		s.mu.Unlock()
	}()

	t := turn{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case box.ch <- t:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// box retorna (criando se preciso) a mailbox do endereço, já contando o
// chamador como remetente pendente
func (s *System) box(address string) (*mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSystemClosed
	}
	b, ok := s.boxes[address]
	if !ok {
		b = &mailbox{ch: make(chan turn, s.size)}
		s.boxes[address] = b
		s.wg.Add(1)
		go s.run(address, b)
	}
	b.waiting++
	return b, nil
}

// run drena a mailbox de um endereço até o sistema ser fechado ou o
// endereço ficar ocioso
func (s *System) run(address string, b *mailbox) {
	defer s.wg.Done()
	idle := time.NewTimer(s.idle)
	defer idle.Stop()

	for {
		select {
		case t, ok := <-b.ch:
			if !ok {
				s.log.Debug("mailbox drained", zap.String("address", address))
				return
			}
			// turnos cujo contexto já expirou não executam o corpo
			if err := t.ctx.Err(); err != nil {
				t.done <- err
			} else {
				t.done <- t.fn(t.ctx)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idle)

		case <-idle.C:
			s.mu.Lock()
			if s.closed || b.waiting > 0 || len(b.ch) > 0 {
				s.mu.Unlock()
				idle.Reset(s.idle)
				continue
			}
			delete(s.boxes, address)
			s.mu.Unlock()
			if s.OnDeactivate != nil {
				s.OnDeactivate(address)
			}
			s.log.Debug("mailbox deactivated", zap.String("address", address))
			return
		}
	}
}

// Close encerra todas as mailboxes e aguarda os turnos em andamento
func (s *System) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, b := range s.boxes {
		close(b.ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
