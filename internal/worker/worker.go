package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCommand runs the bundled dlib worker script.
var DefaultCommand = []string{"python3", "-u", "python/recognizer.py"}

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxResponse guards against a corrupted length header.
	maxResponse = 64 * 1024 * 1024
)

// Protocol operations.
const (
	OpPrepare   = "prepare"
	OpLocate    = "locate"
	OpLandmarks = "landmarks"
	OpEmbed     = "embed"
	OpRelease   = "release"
)

// Config controls how the recognizer process is launched.
type Config struct {
	Command []string
	Models  string
	// ReadTimeout bounds each response wait. Zero disables it.
	ReadTimeout time.Duration
}

// Request is the msgpack body sent for every call.
type Request struct {
	Op        string            `msgpack:"op"`
	Handle    uint64            `msgpack:"handle,omitempty"`
	Width     int               `msgpack:"width,omitempty"`
	Height    int               `msgpack:"height,omitempty"`
	Pix       []byte            `msgpack:"pix,omitempty"`
	Region    *types.FaceRegion `msgpack:"region,omitempty"`
	Landmarks []types.Landmarks `msgpack:"landmarks,omitempty"`
	Chip      int               `msgpack:"chip"`
}

// Response is the msgpack body returned with status OK.
type Response struct {
	Handle     uint64             `msgpack:"handle"`
	Regions    []types.FaceRegion `msgpack:"regions"`
	Landmarks  types.Landmarks    `msgpack:"landmarks"`
	Embeddings [][]float32        `msgpack:"embeddings"`
}

// PythonWorker speaks the framed protocol with a recognizer process.
//
// Requests go over stdin as [uint32 length][msgpack Request]. Responses come
// back on FD 3 as [uint32 length][status][body]; body is a msgpack Response
// when status is OK, or [uint32 length][message] otherwise. Keeping data off
// stdout means stray prints in the child cannot corrupt the stream.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu     sync.Mutex
	broken error
}

var _ recognition.Recognizer = (*PythonWorker)(nil)

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	args := append([]string(nil), command[1:]...)
	if cfg.Models != "" {
		args = append(args, "--models", cfg.Models)
	}

	py := utils.NewSafeCommand(ctx, command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%w: worker %d failed to start: %v", recognition.ErrUnavailable, id, err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	logger.Info(logger.Fields{"worker": id, "pid": py.Process.Pid}, "[worker.NewPythonWorker] recognizer process started")

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one framed request and returns the raw response frame.
// Transport failures poison the worker: every later call returns ErrUnavailable.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}
	resp, err := w.roundTrip(data)
	if err != nil {
		w.broken = fmt.Errorf("%w: worker %d: %v", recognition.ErrUnavailable, w.ID, err)
		return nil, w.broken
	}
	return resp, nil
}

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if dl, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		if err := dl.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed interpreter surfaces here
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// Call encodes req, performs the round trip and decodes the reply.
func (w *PythonWorker) Call(req Request) (Response, error) {
	var resp Response

	data, err := msgpack.Marshal(&req)
	if err != nil {
		return resp, fmt.Errorf("failed to encode %s request: %w", req.Op, err)
	}
	raw, err := w.Communicate(data)
	if err != nil {
		return resp, err
	}

	switch raw[0] {
	case statusOK:
		if err := msgpack.Unmarshal(raw[1:], &resp); err != nil {
			return resp, fmt.Errorf("failed to decode %s response: %w", req.Op, err)
		}
		return resp, nil
	case statusError:
		return resp, decodeError(raw[1:])
	default:
		return resp, fmt.Errorf("unknown worker status %d", raw[0])
	}
}

func decodeError(body []byte) error {
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return errors.New("python worker error: (no message)")
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return errors.New("python worker error: (truncated message)")
	}
	return fmt.Errorf("python worker error: %s", msg)
}

// remoteImage is a handle to an image held by the worker process.
type remoteImage struct {
	w      *PythonWorker
	handle uint64
	closed bool
}

func (img *remoteImage) Close() error {
	if img.closed {
		return nil
	}
	img.closed = true
	_, err := img.w.Call(Request{Op: OpRelease, Handle: img.handle})
	return err
}

func (w *PythonWorker) Prepare(view recognition.ImageView) (recognition.Image, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	resp, err := w.Call(Request{Op: OpPrepare, Width: view.Width, Height: view.Height, Pix: view.Packed()})
	if err != nil {
		return nil, err
	}
	return &remoteImage{w: w, handle: resp.Handle}, nil
}

func (w *PythonWorker) remote(img recognition.Image) (*remoteImage, error) {
	ri, ok := img.(*remoteImage)
	if !ok || ri.w != w {
		return nil, fmt.Errorf("image handle %T does not belong to worker %d", img, w.ID)
	}
	if ri.closed {
		return nil, fmt.Errorf("image handle %d already released", ri.handle)
	}
	return ri, nil
}

func (w *PythonWorker) LocateFaces(img recognition.Image) ([]types.FaceRegion, error) {
	ri, err := w.remote(img)
	if err != nil {
		return nil, err
	}
	resp, err := w.Call(Request{Op: OpLocate, Handle: ri.handle})
	if err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

func (w *PythonWorker) ExtractLandmarks(img recognition.Image, region types.FaceRegion) (types.Landmarks, error) {
	ri, err := w.remote(img)
	if err != nil {
		return types.Landmarks{}, err
	}
	resp, err := w.Call(Request{Op: OpLandmarks, Handle: ri.handle, Region: &region})
	if err != nil {
		return types.Landmarks{}, err
	}
	resp.Landmarks.Region = region
	return resp.Landmarks, nil
}

func (w *PythonWorker) ExtractEmbeddings(img recognition.Image, lms []types.Landmarks, chip int) ([]types.Embedding, error) {
	ri, err := w.remote(img)
	if err != nil {
		return nil, err
	}
	resp, err := w.Call(Request{Op: OpEmbed, Handle: ri.handle, Landmarks: lms, Chip: chip})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(lms) {
		return nil, fmt.Errorf("worker returned %d embeddings for %d faces", len(resp.Embeddings), len(lms))
	}
	out := make([]types.Embedding, len(resp.Embeddings))
	for i, vec := range resp.Embeddings {
		out[i] = types.Embedding{Vec: vec, Chip: chip}
	}
	return out, nil
}

// Close shuts the worker down: closing stdin is the child's signal to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return fmt.Errorf("worker %d exited: %w", w.ID, err)
	}
	return nil
}
