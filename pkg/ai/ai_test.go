package ai

import (
	"context"
	"errors"
	"testing"
)

type scriptedModel struct {
	replies []string
	errs    []error
	calls   int
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) HandleText(ctx context.Context, msg string) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	return m.replies[i], nil
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name    string
		model   *scriptedModel
		want    SongInfo
		wantErr error
	}{
		{
			name:  "plain json",
			model: &scriptedModel{replies: []string{`{"is_song": true, "title": "晴天", "artist": "周杰伦"}`}},
			want:  SongInfo{Title: "晴天", Artist: "周杰伦", IsSong: true},
		},
		{
			name:  "fenced json",
			model: &scriptedModel{replies: []string{"```json\n{\"is_song\": true, \"title\": \"Yellow\", \"artist\": \"Coldplay\"}\n```"}},
			want:  SongInfo{Title: "Yellow", Artist: "Coldplay", IsSong: true},
		},
		{
			name:    "not a song",
			model:   &scriptedModel{replies: []string{`{"is_song": false}`}},
			wantErr: ErrNotSong,
		},
		{
			name: "retry after failure",
			model: &scriptedModel{
				replies: []string{"", `{"is_song": true, "title": "A", "artist": "B"}`},
				errs:    []error{errors.New("quota")},
			},
			want: SongInfo{Title: "A", Artist: "B", IsSong: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Identify(context.Background(), tt.model, "some media title")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Identify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIdentifyGarbage(t *testing.T) {
	if _, err := Identify(context.Background(), &scriptedModel{replies: []string{"I think it's a song"}}, "x"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in   string
		want SongInfo
	}{
		{"Coldplay - Yellow", SongInfo{Title: "Yellow", Artist: "Coldplay", IsSong: true}},
		{"A - B - C", SongInfo{Title: "B - C", Artist: "A", IsSong: true}},
		{"Untitled", SongInfo{Title: "Untitled", IsSong: true}},
		{"  ", SongInfo{}},
	}
	for _, tt := range tests {
		if got := SplitTitle(tt.in); got != tt.want {
			t.Fatalf("SplitTitle(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
