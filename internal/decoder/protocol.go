// Package decoder runs incremental audio decoding on its own goroutine and
// talks to its consumer through a small request/response protocol. Every
// message carries the id of the request that produced it so the consumer can
// drop responses from superseded sessions.
package decoder

// File is the input handed to Init. Either Path or Data must be set.
type File struct {
	Name string
	Path string
	Data []byte
}

// Request is sent to the worker.
type Request interface {
	RequestID() int64
	isRequest()
}

// InitRequest opens a new session, tearing down any previous one.
type InitRequest struct {
	ID        int64
	File      File
	ChunkSize int
}

// PauseRequest stops chunk production for the session with ID. A request
// whose ID is not the current session's is dropped, so a pause aimed at a
// superseded session never stalls its replacement.
type PauseRequest struct {
	ID int64
}

// ResumeRequest restarts chunk production for the session with ID. Like
// PauseRequest it is dropped when ID is not the current session's.
type ResumeRequest struct {
	ID int64
}

// SeekRequest repositions the active session and re-tags it with ID.
type SeekRequest struct {
	ID       int64
	SeekTime float64
}

func (r InitRequest) RequestID() int64   { return r.ID }
func (r PauseRequest) RequestID() int64  { return r.ID }
func (r ResumeRequest) RequestID() int64 { return r.ID }
func (r SeekRequest) RequestID() int64   { return r.ID }

func (InitRequest) isRequest()   {}
func (PauseRequest) isRequest()  {}
func (ResumeRequest) isRequest() {}
func (SeekRequest) isRequest()   {}

// Response is emitted by the worker.
type Response interface {
	ResponseID() int64
	Type() string
}

type ErrorResponse struct {
	ID    int64
	Error string
}

type MetadataResponse struct {
	ID            int64
	SampleRate    int
	Channels      int
	Duration      float64
	Metadata      map[string]string
	Encoding      string
	Cover         []byte
	CoverMIME     string
	BitsPerSample int
}

// ChunkResponse carries planar float32 samples. Ownership of Data passes to
// the receiver.
type ChunkResponse struct {
	ID     int64
	Data   []float32
	Frames int
	Time   float64
}

type EOFResponse struct {
	ID int64
}

type SeekDoneResponse struct {
	ID   int64
	Time float64
}

func (r ErrorResponse) ResponseID() int64    { return r.ID }
func (r MetadataResponse) ResponseID() int64 { return r.ID }
func (r ChunkResponse) ResponseID() int64    { return r.ID }
func (r EOFResponse) ResponseID() int64      { return r.ID }
func (r SeekDoneResponse) ResponseID() int64 { return r.ID }

func (ErrorResponse) Type() string    { return "ERROR" }
func (MetadataResponse) Type() string { return "METADATA" }
func (ChunkResponse) Type() string    { return "CHUNK" }
func (EOFResponse) Type() string      { return "EOF" }
func (SeekDoneResponse) Type() string { return "SEEK_DONE" }
