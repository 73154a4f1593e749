package codecadapter

import "github.com/nvr-edge/ps-h264-bridge/internal/ps"

// Status reuses the ps package's closed taxonomy (spec §7) — the adapter
// adds no status values of its own, only new paths that produce the
// existing ones (UNSUP on a descriptor mismatch, DecoderFailed from
// decode_whole).
type Status = ps.Status

const (
	OK            = ps.OK
	Inval         = ps.Inval
	TooSmall      = ps.TooSmall
	EOF           = ps.EOF
	Bug           = ps.Bug
	Unsup         = ps.Unsup
	DecoderFailed = ps.DecoderFailed
)
