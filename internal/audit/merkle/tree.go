// Package merkle groups consecutive entries into fixed-size batches, seals
// each batch under a signed root, and serves inclusion proofs so one entry can
// be checked in O(log n) without replaying the chain.
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Hasher combines two child digests into their parent.
type Hasher interface {
	SumPair(left, right []byte) []byte
}

// Step is one sibling on the path from a leaf to the root. Direction says
// which side the sibling sits on.
type Step struct {
	Hash      string `json:"hash"`
	Direction string `json:"direction"`
}

const (
	Left  = "left"
	Right = "right"
)

var ErrEmptyTree = errors.New("merkle tree has no leaves")

// DecodeLeaves turns hex leaf hashes into raw digests.
func DecodeLeaves(hexLeaves []string) ([][]byte, error) {
	out := make([][]byte, len(hexLeaves))
	for i, l := range hexLeaves {
		raw, err := hex.DecodeString(l)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// Root hashes leaves pairwise bottom-up. An odd node at any level is paired
// with itself.
func Root(h Hasher, leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(h, level)
	}
	return level[0], nil
}

// RootHex is Root over hex-encoded leaves.
func RootHex(h Hasher, hexLeaves []string) (string, error) {
	leaves, err := DecodeLeaves(hexLeaves)
	if err != nil {
		return "", err
	}
	root, err := Root(h, leaves)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}

// Path returns the sibling steps from leaves[index] up to the root.
func Path(h Hasher, leaves [][]byte, index int) ([]Step, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0,%d)", index, len(leaves))
	}
	var path []Step
	level := leaves
	idx := index
	for len(level) > 1 {
		if idx%2 == 0 {
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			path = append(path, Step{Hash: hex.EncodeToString(sibling), Direction: Right})
		} else {
			path = append(path, Step{Hash: hex.EncodeToString(level[idx-1]), Direction: Left})
		}
		level = nextLevel(h, level)
		idx /= 2
	}
	return path, nil
}

// VerifyPath recomputes the root from a hex leaf and its path.
func VerifyPath(h Hasher, leaf string, path []Step, root string) bool {
	current, err := hex.DecodeString(leaf)
	if err != nil {
		return false
	}
	for _, step := range path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false
		}
		switch step.Direction {
		case Left:
			current = h.SumPair(sibling, current)
		case Right:
			current = h.SumPair(current, sibling)
		default:
			return false
		}
	}
	return hex.EncodeToString(current) == root
}

func nextLevel(h Hasher, level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, h.SumPair(level[i], right))
	}
	return next
}
