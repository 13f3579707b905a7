package detect

import (
	"io"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestGuessHeaders(t *testing.T) {
	tests := []struct {
		name    string
		sample  [][]string
		wantIdx int
		wantErr bool
	}{
		{
			name: "uniform table",
			sample: [][]string{
				{"id", "name", "age"},
				{"1", "alice", "30"},
				{"2", "bob", "41"},
			},
			wantIdx: 0,
		},
		{
			name: "title row skipped",
			sample: [][]string{
				{"Monthly Report", "", "", "", ""},
				{"id", "name", "age", "city", "zip"},
				{"1", "alice", "30", "graz", "8010"},
				{"2", "bob", "41", "wien", "1010"},
				{"3", "carol", "29", "linz", "4020"},
				{"4", "dave", "55", "graz", "8020"},
				{"5", "erin", "33", "wien", "1030"},
				{"6", "frank", "47", "linz", "4040"},
				{"7", "grace", "38", "graz", "8010"},
				{"8", "heidi", "26", "wien", "1090"},
			},
			wantIdx: 1,
		},
		{
			name: "one missing cell tolerated",
			sample: [][]string{
				{"id", "name", "age", ""},
				{"1", "alice", "30", "graz"},
				{"2", "bob", "41", "wien"},
				{"3", "carol", "29", "linz"},
			},
			wantIdx: 0,
		},
		{
			name:    "no rows",
			sample:  [][]string{},
			wantErr: true,
		},
		{
			name:    "only empty rows",
			sample:  [][]string{{"", ""}, {"", ""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, headers, err := GuessHeaders(tt.sample)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if idx != tt.wantIdx {
				t.Errorf("header index = %d, want %d", idx, tt.wantIdx)
			}
			if len(headers) != len(tt.sample[tt.wantIdx]) {
				t.Errorf("headers = %v, want row %d", headers, tt.wantIdx)
			}
		})
	}
}

func TestNormalizeFieldIDs(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    []string
	}{
		{
			name:    "plain",
			headers: []string{"id", "name"},
			want:    []string{"id", "name"},
		},
		{
			name:    "blank becomes positional",
			headers: []string{"id", "", "age"},
			want:    []string{"id", "column_2", "age"},
		},
		{
			name:    "invalid chars replaced",
			headers: []string{"price ($)", "a/b"},
			want:    []string{"price", "a b"},
		},
		{
			name:    "reserved names suffixed",
			headers: []string{"_id", "_full_text"},
			want:    []string{"_id_", "_full_text_"},
		},
		{
			name:    "duplicates deduplicated",
			headers: []string{"name", "name", "NAME"},
			want:    []string{"name", "name_2", "NAME_3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeFieldIDs(tt.headers)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("id[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGuessTypesStrict(t *testing.T) {
	tests := []struct {
		name   string
		sample [][]string
		want   []FieldType
	}{
		{
			name:   "all integers",
			sample: [][]string{{"3"}, {"4"}, {"5"}},
			want:   []FieldType{TypeInteger},
		},
		{
			name:   "one bad cell demotes to text",
			sample: [][]string{{"3"}, {"4"}, {"x"}},
			want:   []FieldType{TypeText},
		},
		{
			name:   "empty cells ignored",
			sample: [][]string{{"3"}, {""}, {"5"}},
			want:   []FieldType{TypeInteger},
		},
		{
			name:   "all empty column falls back to text",
			sample: [][]string{{"", "1"}, {"", "2"}},
			want:   []FieldType{TypeText, TypeInteger},
		},
		{
			name:   "booleans",
			sample: [][]string{{"true"}, {"FALSE"}, {"yes"}},
			want:   []FieldType{TypeBool},
		},
		{
			name:   "decimals stay decimal",
			sample: [][]string{{"1.50"}, {"-2.25"}},
			want:   []FieldType{TypeDecimal},
		},
		{
			name:   "exponent forces float",
			sample: [][]string{{"1.5e3"}, {"2.25"}},
			want:   []FieldType{TypeFloat},
		},
		{
			name:   "iso dates",
			sample: [][]string{{"2021-03-04"}, {"2021-12-31"}},
			want:   []FieldType{TypeTimestamp},
		},
		{
			name:   "compact digits never a date",
			sample: [][]string{{"20210304"}, {"20211231"}},
			want:   []FieldType{TypeInteger},
		},
		{
			name:   "bytea hex",
			sample: [][]string{{`\xdeadbeef`}, {`\x00ff`}},
			want:   []FieldType{TypeBinary},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GuessTypes(tt.sample, Strict, TimestampPolicy{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("column %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGuessTypesLenient(t *testing.T) {
	tests := []struct {
		name   string
		sample [][]string
		want   FieldType
	}{
		{
			name:   "majority integer tolerates stragglers",
			sample: [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"oops"}},
			want:   TypeInteger,
		},
		{
			name:   "single parse beats the text floor",
			sample: [][]string{{"7"}},
			want:   TypeInteger,
		},
		{
			name:   "pure prose stays text",
			sample: [][]string{{"alpha"}, {"beta"}},
			want:   TypeText,
		},
		{
			name: "tie resolves to earlier candidate",
			// Every cell parses as both decimal and float; decimal is
			// declared first so it wins.
			sample: [][]string{{"1.5"}, {"2.5"}},
			want:   TypeDecimal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GuessTypes(tt.sample, Lenient, TimestampPolicy{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got[0] != tt.want {
				t.Errorf("type = %s, want %s", got[0], tt.want)
			}
		})
	}
}

func TestGuessTypesNoRows(t *testing.T) {
	if _, err := GuessTypes(nil, Strict, TimestampPolicy{}); err == nil {
		t.Fatal("expected error for empty sample")
	}
}

func TestParseTimestampPolicy(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		policy TimestampPolicy
		day    int
		month  int
		ok     bool
	}{
		{name: "iso", in: "2021-03-04", day: 4, month: 3, ok: true},
		{name: "month first default", in: "03/04/2021", day: 4, month: 3, ok: true},
		{name: "day first", in: "03/04/2021", policy: TimestampPolicy{DayFirst: true}, day: 3, month: 4, ok: true},
		{name: "year first", in: "2021/03/04", policy: TimestampPolicy{YearFirst: true}, day: 4, month: 3, ok: true},
		{name: "bare integer rejected", in: "20210304", ok: false},
		{name: "bare float rejected", in: "3.14", ok: false},
		{name: "prose rejected", in: "not a date", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in, tt.policy)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if got.Day() != tt.day || int(got.Month()) != tt.month {
				t.Errorf("parsed %s as %v, want day %d month %d", tt.in, got, tt.day, tt.month)
			}
		})
	}
}

func TestSniffEncodingReplaysBytes(t *testing.T) {
	input := "id,name\n1,alice\n2,bob\n"
	charset, r, err := SniffEncoding(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charset == "" {
		t.Error("expected a detected charset")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading replayed stream: %v", err)
	}
	if string(out) != input {
		t.Errorf("replayed stream = %q, want %q", out, input)
	}
}

func TestResolveSniff(t *testing.T) {
	tests := []struct {
		name       string
		charset    string
		confidence int
		buf        []byte
		want       string
	}{
		{"low confidence falls back", "ISO-8859-5", 40, []byte("id,name"), "windows-1252"},
		{"confident legacy charset kept", "ISO-8859-1", 90, []byte("caf\xe9"), "ISO-8859-1"},
		{"confident valid utf-8 kept", "UTF-8", 100, []byte("café"), "UTF-8"},
		{"claimed utf-8 with invalid bytes falls back", "UTF-8", 100, []byte("caf\xe9"), "windows-1252"},
		{"empty input falls back", "UTF-8", 0, nil, "windows-1252"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveSniff(tt.charset, tt.confidence, tt.buf); got != tt.want {
				t.Errorf("resolveSniff(%q, %d) = %q, want %q", tt.charset, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestDecodingReaderRepairsInvalidUTF8(t *testing.T) {
	out, err := io.ReadAll(DecodingReader(strings.NewReader("a\xffb"), "UTF-8"))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(out) != "a�b" {
		t.Errorf("decoded = %q, want invalid byte replaced", out)
	}
}

func TestDecodingReaderLatin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String("café")
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	out, err := io.ReadAll(DecodingReader(strings.NewReader(encoded), "ISO-8859-1"))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(out) != "café" {
		t.Errorf("decoded = %q, want %q", out, "café")
	}
}

func TestDecodingReaderStripsBOM(t *testing.T) {
	out, err := io.ReadAll(DecodingReader(strings.NewReader("\xEF\xBB\xBFid,name"), "UTF-8"))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(out) != "id,name" {
		t.Errorf("decoded = %q, want %q", out, "id,name")
	}
}
