package arbiter

import (
	stderrors "errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360/assetportal/errors"
	"github.com/c360/assetportal/protocol"
	"github.com/c360/assetportal/transport"
)

// serveConn reads frames from one connection until it fails or the arbiter
// stops. It blocks only on channel I/O; registry mutations happen inside
// the registry's own lock.
func (a *Arbiter) serveConn(conn transport.Conn) {
	logger := a.logger.With("conn", uuid.NewString()[:8])

	// The pid last registered on this connection. A failing connection is
	// an implicit UNREGISTER for it.
	boundPID := 0

	defer func() {
		conn.Close()

		a.connsMu.Lock()
		delete(a.conns, conn)
		open := len(a.conns)
		a.connsMu.Unlock()
		if a.metrics != nil {
			a.metrics.ConnectionsOpen.Set(float64(open))
		}

		if boundPID != 0 {
			removed, wasActive := a.reg.UnregisterConn(boundPID, conn)
			if removed {
				logger.Info("connection closed, instance implicitly unregistered",
					"pid", boundPID, "was_active", wasActive)
				a.recordRegistryGauges()
			}
		}
	}()

	for {
		frame, err := conn.Recv()
		if err != nil {
			if !stderrors.Is(err, errors.ErrConnectionLost) {
				logger.Warn("receive failed", "error", err)
			}
			return
		}

		payload, err := protocol.Decode(frame)
		if err != nil {
			// Decode failures stay local to the message: reply ERROR and
			// keep serving the connection.
			a.replyDecodeError(logger, conn, err)
			continue
		}

		if a.metrics != nil {
			a.metrics.RecordMessage(payload.Kind().String())
		}

		if err := payload.Validate(); err != nil {
			a.reply(logger, conn, protocol.Error{Error: err.Error(), For: payload.Kind()})
			continue
		}

		a.dispatch(logger, conn, &boundPID, payload)
	}
}

func (a *Arbiter) dispatch(logger *slog.Logger, conn transport.Conn, boundPID *int, payload protocol.Payload) {
	switch p := payload.(type) {
	case protocol.Register:
		known := a.reg.Register(p.PID, p.Name, conn)
		*boundPID = p.PID
		logger.Info("instance registered", "pid", p.PID, "name", p.Name, "refresh", known)
		if a.metrics != nil && !known {
			a.metrics.RegistrationsTotal.Inc()
		}
		a.recordRegistryGauges()
		a.reply(logger, conn, protocol.Ack{For: protocol.KindRegister})

	case protocol.Unregister:
		removed, wasActive := a.reg.Unregister(p.PID)
		if p.PID == *boundPID {
			*boundPID = 0
		}
		if removed {
			logger.Info("instance unregistered", "pid", p.PID, "was_active", wasActive)
		}
		a.recordRegistryGauges()
		a.reply(logger, conn, protocol.Ack{For: protocol.KindUnregister})

	case protocol.ClaimActive:
		if err := a.reg.Claim(p.PID, p.Name); err != nil {
			logger.Info("claim refused", "pid", p.PID, "reason", err.Error())
			a.reply(logger, conn, protocol.Error{Error: err.Error(), For: protocol.KindClaimActive})
			return
		}
		logger.Info("active status granted", "pid", p.PID, "name", p.Name)
		if a.metrics != nil {
			a.metrics.RecordActive(true)
		}
		a.reply(logger, conn, protocol.Ack{For: protocol.KindClaimActive})
		a.flushPending()

	case protocol.ReleaseActive:
		a.reg.Release(p.PID)
		logger.Info("active status released", "pid", p.PID)
		if a.metrics != nil {
			_, stillActive := a.reg.Active()
			a.metrics.RecordActive(stillActive)
		}
		a.reply(logger, conn, protocol.Ack{For: protocol.KindReleaseActive})

	case protocol.Heartbeat:
		known := a.reg.Heartbeat(p.PID, conn)
		if !known {
			// Implicit re-registration: bind the connection so disconnect
			// cleanup still works for this pid.
			if *boundPID == 0 {
				*boundPID = p.PID
			}
			logger.Warn("heartbeat from unknown pid, implicitly re-registered", "pid", p.PID)
			a.recordRegistryGauges()
		}
		if a.metrics != nil {
			a.metrics.HeartbeatsTotal.Inc()
		}
		a.reply(logger, conn, protocol.Ack{For: protocol.KindHeartbeat})

	case protocol.QueryStatus:
		a.reply(logger, conn, a.statusResponse())

	case protocol.Ack:
		// Clients do not owe the arbiter acknowledgements; ignore.

	case protocol.Error:
		logger.Warn("error message from client", "error", p.Error, "error_for", p.For.String())

	default:
		// Arbiter-to-client kinds arriving inbound are protocol violations.
		logger.Warn("unexpected message direction", "kind", payload.Kind().String())
		a.reply(logger, conn, protocol.Error{
			Error: "unexpected message kind " + payload.Kind().String(),
			For:   payload.Kind(),
		})
	}
}

// replyDecodeError maps a decode failure to an ERROR reply without ending
// the connection.
func (a *Arbiter) replyDecodeError(logger *slog.Logger, conn transport.Conn, err error) {
	reason := "malformed"
	if stderrors.Is(err, errors.ErrUnknownKind) {
		reason = "unknown_kind"
	}
	logger.Warn("undecodable message", "reason", reason, "error", err)
	if a.metrics != nil {
		a.metrics.RecordProtocolError(reason)
	}
	a.reply(logger, conn, protocol.Error{Error: err.Error()})
}

func (a *Arbiter) reply(logger *slog.Logger, conn transport.Conn, payload protocol.Payload) {
	raw, err := protocol.Encode(payload)
	if err != nil {
		logger.Error("encode reply failed", "kind", payload.Kind().String(), "error", err)
		return
	}
	if err := conn.Send(raw); err != nil {
		logger.Warn("reply send failed", "kind", payload.Kind().String(), "error", err)
	}
}

func (a *Arbiter) recordRegistryGauges() {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordInstanceCount(a.reg.Len())
	_, active := a.reg.Active()
	a.metrics.RecordActive(active)
}
