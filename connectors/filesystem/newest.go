// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filesystem

import (
	"container/heap"
	"sort"
	"time"

	"conhub/platform/connectors/base"
)

type dated struct {
	item base.Item
	mod  time.Time
	seq  int
}

// newestHeap is a min-heap on modification time; the root is the oldest
// entry kept so far.
type newestHeap []dated

func (h newestHeap) Len() int { return len(h) }
func (h newestHeap) Less(i, j int) bool {
	if h[i].mod.Equal(h[j].mod) {
		return h[i].seq > h[j].seq
	}
	return h[i].mod.Before(h[j].mod)
}
func (h newestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *newestHeap) Push(x interface{}) { *h = append(*h, x.(dated)) }
func (h *newestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// newestN keeps the n most recently modified items offered to it, whatever
// order they arrive in.
type newestN struct {
	n    int
	seq  int
	heap newestHeap
}

func newNewestN(n int) *newestN {
	return &newestN{n: n}
}

func (k *newestN) offer(item base.Item, mod time.Time) {
	k.seq++
	d := dated{item: item, mod: mod, seq: k.seq}
	if len(k.heap) < k.n {
		heap.Push(&k.heap, d)
		return
	}
	if k.n == 0 || !mod.After(k.heap[0].mod) {
		return
	}
	k.heap[0] = d
	heap.Fix(&k.heap, 0)
}

// items returns the kept items newest first, walk order breaking ties
func (k *newestN) items() []base.Item {
	kept := append(newestHeap(nil), k.heap...)
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].mod.Equal(kept[j].mod) {
			return kept[i].seq < kept[j].seq
		}
		return kept[i].mod.After(kept[j].mod)
	})
	out := make([]base.Item, len(kept))
	for i, d := range kept {
		out[i] = d.item
	}
	return out
}
