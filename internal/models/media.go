package models

// MediaInfo is an immutable snapshot of a source file's technical properties,
// produced once by the prober and stored verbatim into recording metadata.
type MediaInfo struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Bitrate  int64   `json:"bitrate"`
	Format   string  `json:"format"`
	Codec    string  `json:"codec"`
	Size     int64   `json:"size"`
}
