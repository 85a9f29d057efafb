package protocol

import (
	"strings"
	"testing"
)

func TestParseServerEventVariants(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, got any)
	}{
		{
			name: "session created",
			raw:  `{"type":"session.created","event_id":"ev_1","session":{"id":"sess_1"}}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(SessionCreated)
				if !ok {
					t.Fatalf("got %T, want SessionCreated", got)
				}
				if e.EventID != "ev_1" {
					t.Fatalf("EventID = %q, want ev_1", e.EventID)
				}
			},
		},
		{
			name: "error",
			raw:  `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(ErrorEvent)
				if !ok {
					t.Fatalf("got %T, want ErrorEvent", got)
				}
				if e.Error.Message != "nope" {
					t.Fatalf("Error.Message = %q, want nope", e.Error.Message)
				}
			},
		},
		{
			name: "response done with usage",
			raw: `{"type":"response.done","response":{"id":"resp_1","status":"completed",
				"usage":{"total_tokens":30,"input_tokens":10,"output_tokens":20,
				"input_token_details":{"text_tokens":6,"audio_tokens":4,"cached_tokens":2,"cached_tokens_details":{"text_tokens":2,"audio_tokens":0}},
				"output_token_details":{"text_tokens":12,"audio_tokens":8}}}}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(ResponseDone)
				if !ok {
					t.Fatalf("got %T, want ResponseDone", got)
				}
				if e.Response.Status != "completed" {
					t.Fatalf("Status = %q, want completed", e.Response.Status)
				}
				if e.Response.Usage == nil || e.Response.Usage.TotalTokens != 30 {
					t.Fatalf("Usage = %+v, want TotalTokens 30", e.Response.Usage)
				}
				if e.Response.Usage.InputTokenDetails.CachedTokensDetails.TextTokens != 2 {
					t.Fatalf("cached text tokens = %d, want 2", e.Response.Usage.InputTokenDetails.CachedTokensDetails.TextTokens)
				}
			},
		},
		{
			name: "response done failed",
			raw:  `{"type":"response.done","response":{"id":"resp_1","status":"failed","status_details":{"type":"failed","error":{"message":"overloaded"}}}}`,
			check: func(t *testing.T, got any) {
				e := got.(ResponseDone)
				if e.Response.StatusDetails.Error == nil || e.Response.StatusDetails.Error.Message != "overloaded" {
					t.Fatalf("StatusDetails.Error = %+v, want overloaded", e.Response.StatusDetails.Error)
				}
			},
		},
		{
			name: "transcript delta",
			raw:  `{"type":"response.audio_transcript.delta","response_id":"resp_1","item_id":"item_1","delta":"hel"}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(ResponseAudioTranscriptDelta)
				if !ok {
					t.Fatalf("got %T, want ResponseAudioTranscriptDelta", got)
				}
				if e.Delta != "hel" {
					t.Fatalf("Delta = %q, want hel", e.Delta)
				}
			},
		},
		{
			name: "input transcription completed",
			raw:  `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_9","transcript":"hello there"}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(InputAudioTranscriptionCompleted)
				if !ok {
					t.Fatalf("got %T, want InputAudioTranscriptionCompleted", got)
				}
				if e.Transcript != "hello there" {
					t.Fatalf("Transcript = %q", e.Transcript)
				}
			},
		},
		{
			name: "speech started",
			raw:  `{"type":"input_audio_buffer.speech_started","item_id":"item_2","audio_start_ms":1500}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(InputSpeechStarted)
				if !ok {
					t.Fatalf("got %T, want InputSpeechStarted", got)
				}
				if e.AudioStartMS != 1500 {
					t.Fatalf("AudioStartMS = %d, want 1500", e.AudioStartMS)
				}
			},
		},
		{
			name: "output audio stopped",
			raw:  `{"type":"output_audio_buffer.stopped","response_id":"resp_4"}`,
			check: func(t *testing.T, got any) {
				e, ok := got.(OutputAudioStopped)
				if !ok {
					t.Fatalf("got %T, want OutputAudioStopped", got)
				}
				if e.ResponseID != "resp_4" {
					t.Fatalf("ResponseID = %q, want resp_4", e.ResponseID)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseServerEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseServerEvent: %v", err)
			}
			tc.check(t, got)
		})
	}
}

func TestParseServerEventUnknownType(t *testing.T) {
	raw := `{"type":"response.output_item.added","event_id":"ev_9","item":{}}`
	got, err := ParseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerEvent: %v", err)
	}
	u, ok := got.(UnknownEvent)
	if !ok {
		t.Fatalf("got %T, want UnknownEvent", got)
	}
	if u.Type != "response.output_item.added" {
		t.Fatalf("Type = %q", u.Type)
	}
	if !strings.Contains(string(u.Raw), "ev_9") {
		t.Fatalf("Raw does not preserve payload: %s", u.Raw)
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("malformed JSON parsed without error")
	}
}
