package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

// Socket asks an external agent listening on a Unix socket to produce the
// artifact. One JSON request and one JSON response travel per connection.
type Socket struct {
	socketPath string
	timeout    time.Duration
}

var _ service.ArtifactProducer = (*Socket)(nil)

func NewSocket(socketPath string, timeout time.Duration) *Socket {
	return &Socket{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// CommandRequest represents a command sent to the socket
type CommandRequest struct {
	Cmd  string                 `json:"cmd"`
	Args map[string]interface{} `json:"args"`
}

// CommandResponse represents a response from the socket
type CommandResponse struct {
	Code      int    `json:"code"`
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	Message   string `json:"message,omitempty"`
	Size      int64  `json:"size,omitempty"`
	ItemCount int    `json:"item_count,omitempty"`
	Location  string `json:"location,omitempty"`
}

func (s *Socket) Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
	resp, err := s.SendCommand(ctx, "backup", map[string]interface{}{
		"schedule_id":   req.ScheduleID,
		"schedule_name": req.ScheduleName,
		"execution_id":  req.ExecutionID,
		"kind":          req.Kind,
		"backup_type":   req.BackupType,
		"categories":    req.Categories,
		"compress":      req.Compress,
	})
	if err != nil {
		return domain.ArtifactResult{}, err
	}
	if resp.Code != 200 {
		return domain.ArtifactResult{}, fmt.Errorf("producer agent returned %d: %s", resp.Code, resp.Message)
	}
	if resp.ID == "" {
		return domain.ArtifactResult{}, fmt.Errorf("producer agent returned no artifact id")
	}
	return domain.ArtifactResult{
		ArtifactID: resp.ID,
		Size:       resp.Size,
		ItemCount:  resp.ItemCount,
		Location:   resp.Location,
	}, nil
}

// SendCommand sends a command to the Unix socket and waits for response
func (s *Socket) SendCommand(ctx context.Context, cmd string, args map[string]interface{}) (*CommandResponse, error) {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", s.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Cancellation closes the connection so blocked reads return.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := json.NewEncoder(conn).Encode(CommandRequest{Cmd: cmd, Args: args}); err != nil {
		return nil, s.ioError(ctx, "failed to send request", err)
	}

	var response CommandResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, s.ioError(ctx, "failed to read response", err)
	}
	return &response, nil
}

func (s *Socket) ioError(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", what, ctxErr)
	}
	// The connection deadline can fire just before the context notices.
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return fmt.Errorf("%s: %w", what, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", what, err)
}
