package telemetry

// Pipeline latency labels.
const (
	RecognizerConnect = "recognizer_connect"
	TransportConnect  = "transport_connect"
	LLMStreamOpen     = "llm_stream_open"
	LLMFirstToken     = "llm_first_token"
	LLMFirstSentence  = "llm_first_sentence"
	LLMTotal          = "llm_total"
	TTSFetch          = "tts_fetch"
	Decode            = "decode"
	TurnToFirstAudio  = "turn_to_first_audio"
	FrameSend         = "frame_send"
	TTSSentenceTotal  = "tts_sentence_total"
)
