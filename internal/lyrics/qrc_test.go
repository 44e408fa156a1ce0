package lyrics

import "testing"

const qrcSample = `<?xml version="1.0" encoding="utf-8"?>
<QrcInfos>
<LyricInfo LyricCount="1">
<Lyric_1 LyricType="1" LyricContent="[ti:Song]
[1000,2000]Hel(1000,500)lo(1500,1500)
[3000,1000]World(3000,1000)
[5000,500](5000,500)
"/>
</LyricInfo>
</QrcInfos>`

func TestParseQRC(t *testing.T) {
	lines := ParseQRC(qrcSample, "", "")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	first := lines[0]
	if first.StartTime != 1000 || first.EndTime != 3000 {
		t.Fatalf("unexpected line bounds %v..%v", first.StartTime, first.EndTime)
	}
	if len(first.Words) != 2 || first.Words[0].Word != "Hel" || first.Words[1].Word != "lo" {
		t.Fatalf("unexpected words %+v", first.Words)
	}
	if first.Words[1].StartTime != 1500 || first.Words[1].EndTime != 3000 {
		t.Fatalf("unexpected word timing %+v", first.Words[1])
	}
	if lines[1].Text() != "World" {
		t.Fatalf("unexpected second line %q", lines[1].Text())
	}
}

func TestParseQRCBareContent(t *testing.T) {
	lines := ParseQRC("[0,1000]A(0,400)B(400,600)", "", "")
	if len(lines) != 1 || lines[0].Text() != "AB" {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func TestParseQRCTranslationAndRoman(t *testing.T) {
	trans := "[00:00.90]//\n[00:01.10]你好\n[00:03.00]著作权声明：作品的著作权归原作者所有"
	roma := "[1000,2000]ha(1000,500)ro(1500,1500)\n[3000,1000]wa(3000,1000)"

	lines := ParseQRC(qrcSample, trans, roma)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].TranslatedLyric != "你好" {
		t.Fatalf("expected translation attached, got %q", lines[0].TranslatedLyric)
	}
	if lines[1].TranslatedLyric != "" {
		t.Fatalf("copyright notice should be filtered, got %q", lines[1].TranslatedLyric)
	}
	if lines[0].RomanLyric != "haro" || lines[1].RomanLyric != "wa" {
		t.Fatalf("romanization should be flattened per line, got %q %q", lines[0].RomanLyric, lines[1].RomanLyric)
	}
}

func TestParseQRCMalformed(t *testing.T) {
	if lines := ParseQRC("[abc]nothing\nstill nothing", "", ""); len(lines) != 0 {
		t.Fatalf("expected no lines, got %d", len(lines))
	}
}
