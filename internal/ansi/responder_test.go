package ansi

import (
	"bytes"
	"testing"
)

func TestResponder_Queries(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOutput string
		wantAnswer string
	}{
		{"DA1 short", "before\x1b[cafter", "beforeafter", "\x1b[?62;1;2;6;7;8;9;15;22c"},
		{"DA1 explicit", "\x1b[0c", "", "\x1b[?62;1;2;6;7;8;9;15;22c"},
		{"DA2 short", "\x1b[>c", "", "\x1b[>1;1;0c"},
		{"DA2 explicit", "\x1b[>0c", "", "\x1b[>1;1;0c"},
		{"cursor position", "\x1b[6n", "", "\x1b[1;1R"},
		{"kitty keyboard", "\x1b[?u", "", "\x1b[?0u"},
		{"DECRPM 2004", "\x1b[?2004$p", "", "\x1b[?2004;0$y"},
		{"DECRPM 25", "\x1b[?25$p", "", "\x1b[?25;0$y"},
		{"multiple queries", "text\x1b[c\x1b[?umore", "textmore", "\x1b[?62;1;2;6;7;8;9;15;22c\x1b[?0u"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var answers bytes.Buffer
			resp := NewResponder(&answers)

			got := resp.Process([]byte(tt.input))
			if string(got) != tt.wantOutput {
				t.Errorf("Process(%q) = %q, want %q", tt.input, got, tt.wantOutput)
			}
			if answers.String() != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answers.String(), tt.wantAnswer)
			}
		})
	}
}

func TestResponder_PassesOtherSequences(t *testing.T) {
	var answers bytes.Buffer
	resp := NewResponder(&answers)

	input := []byte("hello world\x1b[31mred\x1b[0m")
	got := resp.Process(input)
	if string(got) != string(input) {
		t.Errorf("result = %q, want %q", got, input)
	}
	if answers.Len() != 0 {
		t.Errorf("unexpected answer %q", answers.String())
	}
}

func TestResponder_QuerySplitAcrossReads(t *testing.T) {
	tests := []struct {
		name       string
		chunks     []string
		wantOutput string
		wantAnswer string
	}{
		{"cursor position", []string{"a\x1b[6", "nb"}, "ab", "\x1b[1;1R"},
		{"lone ESC", []string{"a\x1b", "[cb"}, "ab", "\x1b[?62;1;2;6;7;8;9;15;22c"},
		{"DECRPM", []string{"\x1b[?20", "04$", "p"}, "", "\x1b[?2004;0$y"},
		{"held prefix that is not a query", []string{"a\x1b[", "31mb"}, "a\x1b[31mb", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var answers bytes.Buffer
			resp := NewResponder(&answers)

			var got []byte
			for _, c := range tt.chunks {
				got = append(got, resp.Process([]byte(c))...)
			}
			if string(got) != tt.wantOutput {
				t.Errorf("output = %q, want %q", got, tt.wantOutput)
			}
			if answers.String() != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answers.String(), tt.wantAnswer)
			}
		})
	}
}

func TestResponder_NilWriter(t *testing.T) {
	resp := NewResponder(nil)
	got := resp.Process([]byte("a\x1b[cb"))
	if string(got) != "ab" {
		t.Errorf("result = %q, want %q", got, "ab")
	}
}
