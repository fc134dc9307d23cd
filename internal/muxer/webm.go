package muxer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"

	"edgecast/pkg/models"
)

const (
	pcmCodecID     = "A_PCM/INT/LIT"
	audioTrack     = 1
	blockDuration  = 20 * time.Millisecond
	clusterSpanMs  = 30000 // keeps SimpleBlock relative timecodes inside int16
	timecodeScale  = 1000000
	muxingAppName  = "edgecast"
	trackTypeAudio = 2
)

type clipContainer struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment clipSegment     `ebml:"Segment"`
}

type clipSegment struct {
	Info    webm.Info     `ebml:"Info"`
	Tracks  webm.Tracks   `ebml:"Tracks"`
	Cluster []clipCluster `ebml:"Cluster"`
}

type clipCluster struct {
	Timecode    uint64       `ebml:"Timecode"`
	SimpleBlock []ebml.Block `ebml:"SimpleBlock"`
}

// Clip is a decoded audio chunk
type Clip struct {
	Format models.AudioFormat
	PCM    []byte
}

// Duration returns the playback length of the clip
func (c *Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// EncodeClip packs 16-bit little-endian PCM into a single-track WebM clip,
// split into 20ms blocks.
func EncodeClip(pcm []byte, format models.AudioFormat) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", format)
	}

	frameBytes := format.Channels * 2
	blockBytes := format.BytesPerSecond() / int(time.Second/blockDuration)
	blockBytes -= blockBytes % frameBytes
	if blockBytes == 0 {
		blockBytes = frameBytes
	}

	container := clipContainer{
		Header: webm.EBMLHeader{
			EBMLVersion:        1,
			EBMLReadVersion:    1,
			EBMLMaxIDLength:    4,
			EBMLMaxSizeLength:  8,
			DocType:            "webm",
			DocTypeVersion:     4,
			DocTypeReadVersion: 2,
		},
		Segment: clipSegment{
			Info: webm.Info{
				TimecodeScale: timecodeScale,
				MuxingApp:     muxingAppName,
				WritingApp:    muxingAppName,
			},
			Tracks: webm.Tracks{
				TrackEntry: []webm.TrackEntry{
					{
						Name:        "Audio",
						TrackNumber: audioTrack,
						TrackUID:    audioTrack,
						CodecID:     pcmCodecID,
						TrackType:   trackTypeAudio,
						Audio: &webm.Audio{
							SamplingFrequency: float64(format.SampleRate),
							Channels:          uint64(format.Channels),
						},
					},
				},
			},
		},
	}

	var cluster *clipCluster
	for off := 0; off < len(pcm); off += blockBytes {
		end := off + blockBytes
		if end > len(pcm) {
			end = len(pcm)
		}

		ts := format.Duration(off).Milliseconds()
		if cluster == nil || ts-int64(cluster.Timecode) >= clusterSpanMs {
			container.Segment.Cluster = append(container.Segment.Cluster, clipCluster{Timecode: uint64(ts)})
			cluster = &container.Segment.Cluster[len(container.Segment.Cluster)-1]
		}

		cluster.SimpleBlock = append(cluster.SimpleBlock, ebml.Block{
			TrackNumber: audioTrack,
			Timecode:    int16(ts - int64(cluster.Timecode)),
			Keyframe:    true,
			Data:        [][]byte{pcm[off:end]},
		})
	}

	var buf bytes.Buffer
	if err := ebml.Marshal(&container, &buf); err != nil {
		return nil, fmt.Errorf("failed to write webm clip: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeClip reads a clip produced by EncodeClip
func DecodeClip(data []byte) (*Clip, error) {
	var container clipContainer
	if err := ebml.Unmarshal(bytes.NewReader(data), &container); err != nil {
		return nil, fmt.Errorf("%w: audio is not a webm clip: %v", models.ErrMalformedPayload, err)
	}

	var track *webm.TrackEntry
	for i := range container.Segment.Tracks.TrackEntry {
		t := &container.Segment.Tracks.TrackEntry[i]
		if t.CodecID == pcmCodecID && t.Audio != nil {
			track = t
			break
		}
	}
	if track == nil {
		return nil, fmt.Errorf("%w: no PCM audio track", models.ErrMalformedPayload)
	}

	clip := &Clip{
		Format: models.AudioFormat{
			SampleRate: int(track.Audio.SamplingFrequency),
			Channels:   int(track.Audio.Channels),
		},
	}

	for _, cluster := range container.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != track.TrackNumber {
				continue
			}
			for _, d := range block.Data {
				clip.PCM = append(clip.PCM, d...)
			}
		}
	}

	return clip, nil
}

// EncodeClipBase64 encodes a chunk as a base64 WebM clip
func EncodeClipBase64(chunk *models.Chunk) (string, error) {
	raw, err := EncodeClip(chunk.Samples, chunk.Format)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeClipBase64 decodes a base64 WebM clip
func DecodeClipBase64(s string) (*Clip, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: audio is not base64: %v", models.ErrMalformedPayload, err)
	}
	return DecodeClip(raw)
}
