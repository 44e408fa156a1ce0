package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"player-backend/internal/lyrics"
	"player-backend/pkg/fileutil"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "ipc").Logger()

// Message types sent to clients.
const (
	TypeLyric    = "lyric"
	TypeLyrics   = "lyrics"
	TypeStatus   = "status"
	TypePlayback = "playback"
	TypeError    = "error"
)

// Message is one JSON line on the socket.
type Message struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	Index    int           `json:"index,omitempty"`
	Line     *lyrics.Line  `json:"line,omitempty"`
	Lines    []lyrics.Line `json:"lines,omitempty"`
	Format   string        `json:"format,omitempty"`
	Source   string        `json:"source,omitempty"`
	Playing  *bool         `json:"playing,omitempty"`
	Position float64       `json:"position,omitempty"`
	Mode     string        `json:"mode,omitempty"`
}

// Command is a JSON line sent by a client, e.g. {"command":"seek","arg":"42"}.
type Command struct {
	Name string `json:"command"`
	Arg  string `json:"arg,omitempty"`
}

// CommandHandler executes a client command. A returned error is reported
// back to that client only.
type CommandHandler func(Command) error

type Server struct {
	socketPath      string
	listener        net.Listener
	clientConns     map[net.Conn]struct{}
	clientConnsLock sync.Mutex
	// last message per replayed type, sent to new clients
	last         map[string][]byte
	mirrorFile   string
	onCommand    CommandHandler
	lockFile     *os.File
	lockFilePath string
}

func NewServer(socketPath string) *Server {
	return &Server{
		socketPath:   socketPath,
		clientConns:  make(map[net.Conn]struct{}),
		last:         make(map[string][]byte),
		lockFilePath: socketPath + ".lock",
	}
}

// SetMirrorFile makes every lyric line also be written to path, for status
// bars that read a file.
func (s *Server) SetMirrorFile(path string) {
	s.mirrorFile = path
}

// OnCommand registers the command handler. Must be called before Start.
func (s *Server) OnCommand(h CommandHandler) {
	s.onCommand = h
}

func (s *Server) checkAndCleanOldLock() {
	// 检查锁文件是否存在
	content, err := os.ReadFile(s.lockFilePath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		logger.Warn().Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	// kill(pid, 0) 只检查进程是否存在
	if syscall.Kill(pid, 0) != nil {
		logger.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return
	}

	logger.Info().Int("existing_pid", pid).Msg("Another process is still running")
}

func (s *Server) acquireLock() error {
	s.checkAndCleanOldLock()

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	// 尝试获取独占锁
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return errors.New("another player backend instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := file.Truncate(0); err == nil {
		_, err = fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	logger.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		os.Remove(s.lockFilePath)
		logger.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
		s.lockFile = nil
	}
}

func (s *Server) Start() error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener

	logger.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	go s.acceptConnections()

	return nil
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	s.clientConnsLock.Lock()
	s.clientConns[conn] = struct{}{}
	for _, t := range []string{TypeLyrics, TypePlayback, TypeLyric} {
		if data, ok := s.last[t]; ok {
			if _, err := conn.Write(data); err != nil {
				logger.Error().Err(err).Msg("Failed to send initial state")
				break
			}
		}
	}
	s.clientConnsLock.Unlock()

	logger.Info().Msg("Client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleCommand(conn, line)
	}

	s.clientConnsLock.Lock()
	delete(s.clientConns, conn)
	s.clientConnsLock.Unlock()
	conn.Close()
	logger.Info().Msg("Client disconnected")
}

func (s *Server) handleCommand(conn net.Conn, line string) {
	var cmd Command
	err := json.Unmarshal([]byte(line), &cmd)
	switch {
	case err != nil:
		err = fmt.Errorf("invalid command: %w", err)
	case cmd.Name == "":
		err = errors.New("missing command name")
	case s.onCommand == nil:
		err = errors.New("commands are not supported")
	default:
		logger.Debug().Str("command", cmd.Name).Str("arg", cmd.Arg).Msg("Received command")
		err = s.onCommand(cmd)
	}
	if err == nil {
		return
	}

	data, _ := encode(Message{Type: TypeError, Text: err.Error()})
	s.clientConnsLock.Lock()
	conn.Write(data)
	s.clientConnsLock.Unlock()
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Broadcast sends msg to every client. Lyric, timeline and playback messages
// are remembered and replayed to clients that connect later.
func (s *Server) Broadcast(msg Message) {
	data, err := encode(msg)
	if err != nil {
		logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode message")
		return
	}

	if msg.Type == TypeLyric || msg.Type == TypeStatus {
		s.mirror(msg.Text)
	}

	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()

	switch msg.Type {
	case TypeLyrics, TypePlayback, TypeLyric:
		s.last[msg.Type] = data
	case TypeStatus:
		s.last[TypeLyric] = data
	}

	for conn := range s.clientConns {
		if _, err := conn.Write(data); err != nil {
			logger.Error().Err(err).Msg("Failed to write to client, removing")
			conn.Close()
			delete(s.clientConns, conn)
		}
	}
}

// BroadcastText sends a status line, such as a searching notice.
func (s *Server) BroadcastText(text string) {
	s.Broadcast(Message{Type: TypeStatus, Text: text})
}

func (s *Server) mirror(text string) {
	if s.mirrorFile == "" || text == "" {
		return
	}
	if err := fileutil.WriteFileOverwrite(s.mirrorFile, []byte(text+"\n"), 0644); err != nil {
		logger.Warn().Err(err).Str("file", s.mirrorFile).Msg("Failed to mirror lyric")
	}
}

func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.clientConnsLock.Lock()
	for conn := range s.clientConns {
		conn.Close()
	}
	s.clientConnsLock.Unlock()
	s.releaseLock()
}
