// Package demux turns an MPEG transport stream into the packets the player
// consumes. It discovers H.264/H.265 video, AAC audio and CEA-608 captions
// carried in video SEI, timestamps every packet, and keeps an index of
// keyframe offsets so that seekable sources can be repositioned to the
// keyframe at or before a target time.
//
// The central type is [TSDemuxer]. Codec-level parsing is limited to what
// demuxing needs: [ParseAnnexB], [ParseAnnexBHEVC] and [ParseADTS].
package demux
