package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "s.sock")
	s := NewServer(path)
	return s, path
}

func dial(t *testing.T, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readMessage(t *testing.T, r *bufio.Reader) Message {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("bad message %q: %v", line, err)
	}
	return msg
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.clientConnsLock.Lock()
		got := len(s.clientConns)
		s.clientConnsLock.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients", n)
}

func TestBroadcastAndReplay(t *testing.T) {
	s, path := startServer(t)
	mirror := filepath.Join(filepath.Dir(path), "mirror")
	s.SetMirrorFile(mirror)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	s.Broadcast(Message{Type: TypeLyric, Text: "first", Index: 0})

	_, r := dial(t, path)
	if msg := readMessage(t, r); msg.Type != TypeLyric || msg.Text != "first" {
		t.Fatalf("expected replay of last lyric, got %+v", msg)
	}
	waitClients(t, s, 1)

	s.Broadcast(Message{Type: TypeLyric, Text: "second", Index: 1})
	if msg := readMessage(t, r); msg.Text != "second" || msg.Index != 1 {
		t.Fatalf("unexpected broadcast %+v", msg)
	}

	data, err := os.ReadFile(mirror)
	if err != nil || strings.TrimSpace(string(data)) != "second" {
		t.Fatalf("mirror file = %q, %v", data, err)
	}
}

func TestCommands(t *testing.T) {
	s, path := startServer(t)
	got := make(chan Command, 1)
	s.OnCommand(func(c Command) error {
		if c.Name == "explode" {
			return errors.New("boom")
		}
		got <- c
		return nil
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	conn, r := dial(t, path)
	conn.Write([]byte(`{"command":"seek","arg":"42.5"}` + "\n"))
	select {
	case c := <-got:
		if c.Name != "seek" || c.Arg != "42.5" {
			t.Fatalf("unexpected command %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	tests := []struct {
		name string
		line string
		want string
	}{
		{"handler error", `{"command":"explode"}`, "boom"},
		{"bad json", `not json`, "invalid command"},
		{"no name", `{}`, "missing command name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.Write([]byte(tt.line + "\n"))
			msg := readMessage(t, r)
			if msg.Type != TypeError || !strings.Contains(msg.Text, tt.want) {
				t.Fatalf("expected error containing %q, got %+v", tt.want, msg)
			}
		})
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	s, path := startServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	other := NewServer(path)
	if err := other.Start(); err == nil {
		other.Close()
		t.Fatal("expected lock conflict")
	}
}
