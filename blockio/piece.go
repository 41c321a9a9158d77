package blockio

import "github.com/keiichishima/ukai/cmn"

// Piece is one block-local slice of a larger (offset, length) byte range:
// "bytes [Offset, Offset+Length) of block BlockIdx".
type Piece struct {
	BlockIdx int
	Offset   int64
	Length   int64
}

// GatherPieces splits [offset, offset+length) into the ordered sequence of
// per-block pieces spec §5 describes (gather_pieces). blockSize must be
// positive; offset and length must be non-negative.
func GatherPieces(blockSize, offset, length int64) ([]Piece, error) {
	if blockSize <= 0 {
		return nil, cmn.NewInvalidGeometry("block_size must be positive, got %d", blockSize)
	}
	if offset < 0 {
		return nil, cmn.NewInvalidGeometry("offset must be non-negative, got %d", offset)
	}
	if length < 0 {
		return nil, cmn.NewInvalidGeometry("length must be non-negative, got %d", length)
	}
	if length == 0 {
		return nil, nil
	}

	var pieces []Piece
	remaining := length
	pos := offset
	for remaining > 0 {
		blkIdx := pos / blockSize
		offInBlock := pos % blockSize
		avail := blockSize - offInBlock
		n := avail
		if n > remaining {
			n = remaining
		}
		pieces = append(pieces, Piece{
			BlockIdx: int(blkIdx),
			Offset:   offInBlock,
			Length:   n,
		})
		pos += n
		remaining -= n
	}
	return pieces, nil
}
