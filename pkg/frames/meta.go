package frames

// Shared meta keys. Producers set only the keys they know; consumers must
// treat every key as optional.
const (
	MetaStreamID    = "stream_id"
	MetaCallSID     = "call_sid"
	MetaTraceID     = "trace_id"
	MetaSource      = "source"
	MetaReason      = "reason"
	MetaIsFinal     = "is_final"
	MetaConfidence  = "confidence"
	MetaResultIndex = "result_index"
	MetaAgentID     = "agent_id"
	MetaEventID     = "event_id"
	MetaChunkIndex  = "chunk_index"
	MetaFadeInMS    = "fade_in_ms"
	MetaFadeOutTo   = "fade_out_to"
	MetaEncoding    = "encoding"
	MetaCodec       = "codec"
	MetaFromNumber  = "from_number"
	MetaLanguage    = "language"

	MetaOldStreamID   = "old_stream_id"
	MetaCallEndReason = "call_end_reason"
)
