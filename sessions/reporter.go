package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/actionforge/flowrun/build"
	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"
	"github.com/gorilla/websocket"
)

const (
	// Message Types (from browser)
	MsgTypeHello = "hello"
	MsgTypeStop  = "stop"

	// Message Types (to browser)
	MsgTypeRunStarted   = "run_started"
	MsgTypeNodeStarted  = "node_started"
	MsgTypeNodeFinished = "node_finished"
	MsgTypeRunFinished  = "run_finished"
	MsgTypeWarning      = "warning"
)

const writeTimeout = 10 * time.Second

// Message is the envelope for everything sent over the connection.
type Message struct {
	Type       string                     `json:"type"`
	WorkflowId string                     `json:"workflowId,omitempty"`
	RunId      string                     `json:"runId,omitempty"`
	Scope      core.RunScope              `json:"scope,omitempty"`
	NodeId     string                     `json:"nodeId,omitempty"`
	Kind       core.NodeKind              `json:"kind,omitempty"`
	Status     string                     `json:"status,omitempty"`
	Output     any                        `json:"output,omitempty"`
	Error      string                     `json:"error,omitempty"`
	DurationMs int64                      `json:"durationMs,omitempty"`
	Nodes      map[string]core.NodeStatus `json:"nodes,omitempty"`
	Message    string                     `json:"message,omitempty"`
}

// incomingMessage is what the browser sends to the runner.
type incomingMessage struct {
	Type            string `json:"type"`
	RequiredVersion string `json:"required_version"`
}

type ReporterOpts struct {
	WorkflowId string
	// Version of this runner, compared against the version a browser
	// requires. Defaults to the build version.
	Version string
	Header  map[string][]string
}

// Reporter streams run events to a browser session. It implements
// core.RunObserver. Write failures are logged and never fail the run.
type Reporter struct {
	conn *websocket.Conn
	opts ReporterOpts

	writeMu sync.Mutex

	stopMu sync.Mutex
	stop   context.CancelFunc

	done chan struct{}
}

func Dial(ctx context.Context, sessionUrl string, opts ReporterOpts) (*Reporter, error) {
	if opts.Version == "" {
		opts.Version = build.Version
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, sessionUrl, opts.Header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				var errMsg map[string]string
				if json.Unmarshal(body, &errMsg) == nil && errMsg["error"] != "" {
					return nil, core.CreateErr(nil, "session refused: %s", errMsg["error"])
				}
			}
			return nil, core.CreateErr(err, "handshake failed (status %s)", resp.Status)
		}
		return nil, core.CreateErr(err, "failed to connect to %s", sessionUrl)
	}

	r := &Reporter{
		conn: ws,
		opts: opts,
		done: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// OnStop registers the function called when the browser asks to stop
// the current run.
func (r *Reporter) OnStop(cancel context.CancelFunc) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	r.stop = cancel
}

func (r *Reporter) readLoop() {
	defer close(r.done)

	for {
		var msg incomingMessage
		err := r.conn.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				utils.LogOut.Debugf("session connection closed: %v\n", err)
			}
			return
		}

		if isVersionOutdated(r.opts.Version, msg.RequiredVersion) {
			utils.LogOut.Warnf("Runner version %s is older than required %s\n", r.opts.Version, msg.RequiredVersion)
			r.send(Message{
				Type:    MsgTypeWarning,
				Message: fmt.Sprintf("WARNING: Runner version %s is older than required %s", r.opts.Version, msg.RequiredVersion),
			})
		}

		switch msg.Type {
		case MsgTypeStop:
			r.stopMu.Lock()
			stop := r.stop
			r.stopMu.Unlock()
			if stop != nil {
				utils.LogOut.Info("stop requested by session\n")
				stop()
			}
		case MsgTypeHello:
		default:
			utils.LogOut.Debugf("ignoring session message of type '%s'\n", msg.Type)
		}
	}
}

func (r *Reporter) send(msg Message) {
	msg.WorkflowId = r.opts.WorkflowId

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		utils.LogOut.Errorf("failed to set write deadline (connection likely closed): %v\n", err)
		return
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		utils.LogOut.Errorf("failed to send session message: %v\n", err)
	}
}

// Close says goodbye to the browser and waits for the read loop to end.
func (r *Reporter) Close() error {
	r.writeMu.Lock()
	err := r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	r.writeMu.Unlock()

	select {
	case <-r.done:
	case <-time.After(writeTimeout):
	}

	closeErr := r.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return core.CreateErr(err, "failed to close session")
	}
	return closeErr
}

func (r *Reporter) RunStarted(run *core.RunState) {
	r.send(Message{
		Type:   MsgTypeRunStarted,
		RunId:  run.Id,
		Scope:  run.Scope,
		Status: string(run.Status),
		Nodes:  run.NodeStatus,
	})
}

func (r *Reporter) NodeStarted(run *core.RunState, req core.ExecutionRequest) {
	r.send(Message{
		Type:   MsgTypeNodeStarted,
		RunId:  run.Id,
		NodeId: req.NodeId,
		Kind:   req.Kind,
		Status: string(core.NodeStatusRunning),
	})
}

func (r *Reporter) NodeFinished(run *core.RunState, result core.NodeResult) {
	r.send(Message{
		Type:       MsgTypeNodeFinished,
		RunId:      run.Id,
		NodeId:     result.NodeId,
		Kind:       result.Kind,
		Status:     string(result.Status),
		Output:     result.Output,
		Error:      result.Error,
		DurationMs: result.Duration.Milliseconds(),
	})
}

func (r *Reporter) RunFinished(run *core.RunState) {
	r.send(Message{
		Type:       MsgTypeRunFinished,
		RunId:      run.Id,
		Scope:      run.Scope,
		Status:     string(run.Status),
		Error:      run.Error,
		DurationMs: run.Duration.Milliseconds(),
		Nodes:      run.NodeStatus,
	})
}

func isVersionOutdated(current, required string) bool {
	if required == "" {
		return false
	}

	// a local build or a version like `dev` never blocks anyone
	currentVer, err := semver.NewVersion(current)
	if err != nil {
		return false
	}

	requiredVer, err := semver.NewVersion(required)
	if err != nil {
		return false
	}

	return currentVer.LessThan(requiredVer)
}
