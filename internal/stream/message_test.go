package stream

import "testing"

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantOK  bool
		want    ClientMessage
	}{
		{
			name:   "start session",
			data:   `{"type":"control","command":"start_session","college_type":"medical","candidate":"A. Rowe"}`,
			wantOK: true,
			want: ClientMessage{
				Type:        MessageTypeControl,
				Command:     CommandStartSession,
				CollegeType: "medical",
				Candidate:   "A. Rowe",
			},
		},
		{
			name:   "typed answer",
			data:   `{"type":"text","content":"troponin is the marker"}`,
			wantOK: true,
			want:   ClientMessage{Type: MessageTypeText, Text: "troponin is the marker"},
		},
		{
			name:   "typed answer with text alias",
			data:   `{"type":"text","text":"the mitral valve"}`,
			wantOK: true,
			want:   ClientMessage{Type: MessageTypeText, Text: "the mitral valve"},
		},
		{
			name:   "content wins over alias",
			data:   `{"type":"text","content":"aspirin","text":"ignored"}`,
			wantOK: true,
			want:   ClientMessage{Type: MessageTypeText, Text: "aspirin"},
		},
		{
			name:   "barge in",
			data:   `{"type":"barge_in"}`,
			wantOK: true,
			want:   ClientMessage{Type: MessageTypeBargeIn},
		},
		{
			name:   "barge in with energy",
			data:   `{"type":"barge_in","energy":-18.5}`,
			wantOK: true,
			want:   ClientMessage{Type: MessageTypeBargeIn, Energy: -18.5},
		},
		{
			name:   "unknown type",
			data:   `{"type":"telemetry"}`,
			wantOK: false,
		},
		{
			name:   "not json",
			data:   "\x00\x01\x02\x03",
			wantOK: false,
		},
		{
			name:   "json but not an object",
			data:   `[1,2,3]`,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseClientMessage([]byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
