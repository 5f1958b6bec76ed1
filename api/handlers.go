package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
	"github.com/papercomputeco/mnemo/pkg/storage"
)

// ActorHeader names the caller stamped as updated_by on fact mutations.
const ActorHeader = "X-Mnemo-Actor"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SnapshotResponse is one audit snapshot with its document inlined.
type SnapshotResponse struct {
	Name     string          `json:"name"`
	Resource string          `json:"resource"`
	Action   string          `json:"action"`
	TakenAt  time.Time       `json:"taken_at"`
	Document json.RawMessage `json:"document,omitempty"`
}

// requestContext carries the request context and the caller's actor.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if actor := c.Get(ActorHeader); actor != "" {
		ctx = memory.WithActor(ctx, actor)
	}
	return ctx
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleAppend appends one message to the period log.
func (s *Server) handleAppend(c *fiber.Ctx) error {
	var req memory.AppendRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	msg, err := s.memory.Append(requestContext(c), req)
	if err != nil {
		if errors.Is(err, periodlog.ErrInvalidMessage) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("appending message", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to append message"})
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

// handleContext assembles the context window. budget and reserve override
// the configured defaults.
func (s *Server) handleContext(c *fiber.Ctx) error {
	var req memory.ContextRequest

	if v := c.Query("budget"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "budget must be a positive integer"})
		}
		req.Budget = n
	}
	if v := c.Query("reserve"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "reserve must be a non-negative integer"})
		}
		req.Reserve = &n
	}

	return c.JSON(s.memory.LoadContext(requestContext(c), req))
}

// handleGetFacts returns the fact document.
func (s *Server) handleGetFacts(c *fiber.Ctx) error {
	includeArchived := c.QueryBool("include_archived", false)

	view, err := s.memory.GetFacts(requestContext(c), includeArchived)
	if err != nil {
		s.logger.Error("loading facts", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load facts"})
	}

	return c.JSON(view)
}

// handleMutateFacts applies one mutation. The body is the action payload.
func (s *Server) handleMutateFacts(c *fiber.Ctx) error {
	action := c.Params("action")

	res := s.memory.MutateFacts(requestContext(c), action, json.RawMessage(c.Body()))
	if !res.Success && res.Kind.Retryable() {
		c.Set(fiber.HeaderRetryAfter, "1")
	}

	return c.Status(statusFor(res)).JSON(res)
}

// statusFor maps a mutation result to an HTTP status.
func statusFor(res *memory.Result) int {
	if res.Success {
		return fiber.StatusOK
	}

	switch res.Kind {
	case memory.KindValidation:
		return fiber.StatusBadRequest
	case memory.KindNotFound:
		return fiber.StatusNotFound
	case memory.KindLockContention:
		return fiber.StatusConflict
	case memory.KindBudgetExceeded:
		return fiber.StatusUnprocessableEntity
	case memory.KindNotImplemented:
		return fiber.StatusNotImplemented
	case memory.KindCanceled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// handleListAudit lists the audit snapshots, newest first.
func (s *Server) handleListAudit(c *fiber.Ctx) error {
	entries, err := s.memory.Audit(requestContext(c))
	if err != nil {
		s.logger.Error("listing audit trail", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list audit trail"})
	}

	return c.JSON(entries)
}

// handleGetAudit returns one audit snapshot.
func (s *Server) handleGetAudit(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name parameter required"})
	}

	snap, err := s.memory.AuditSnapshot(requestContext(c), name)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "snapshot not found"})
		}
		s.logger.Error("loading snapshot", "snapshot", name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load snapshot"})
	}

	resp := SnapshotResponse{
		Name:     snap.Name(),
		Resource: snap.Resource,
		Action:   snap.Action,
		TakenAt:  snap.TakenAt,
	}
	if json.Valid(snap.Data) {
		resp.Document = snap.Data
	}

	return c.JSON(resp)
}
