package store

import (
	"github.com/wricardo/sessionsocket/realtime/envelope"
	"github.com/wricardo/sessionsocket/realtime/registry"
)

// dispatch decodes one inbound frame and delivers it to the listeners of its
// type.
func (s *Store) dispatch(frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		s.logger.Error().Err(err).Str("frame", string(frame)).Msg("dropping malformed frame")
		return
	}
	if env.Type == "" {
		s.logger.Warn().Str("frame", string(frame)).Msg("message without type")
		return
	}

	listeners := s.listeners.Listeners(env.Type)
	if len(listeners) == 0 {
		s.logger.Debug().Str("type", env.Type).Msg("no listeners for message")
		return
	}

	s.logger.Debug().Str("type", env.Type).Int("listeners", len(listeners)).Msg("dispatching")
	for _, l := range listeners {
		s.invoke(env, l)
	}
}

// invoke runs a single listener, containing any panic it raises.
func (s *Store) invoke(env envelope.Envelope, l registry.Listener) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("type", env.Type).
				Msg("listener failed")
		}
	}()
	l(env.Payload)
}
