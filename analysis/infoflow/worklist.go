// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package infoflow

// QueueSet is a FIFO queue in which each element is present at most once
type QueueSet[T comparable] struct {
	items   []T
	present map[T]bool
}

// NewQueueSet returns an empty queue
func NewQueueSet[T comparable]() *QueueSet[T] {
	return &QueueSet[T]{present: map[T]bool{}}
}

// Enqueue adds x at the end of the queue if it is not already in the queue, and returns true if it was added
func (q *QueueSet[T]) Enqueue(x T) bool {
	if q.present[x] {
		return false
	}
	q.present[x] = true
	q.items = append(q.items, x)
	return true
}

// Dequeue removes and returns the element at the front of the queue. The queue must not be empty.
func (q *QueueSet[T]) Dequeue() T {
	x := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	delete(q.present, x)
	return x
}

// Empty returns true if the queue has no elements
func (q *QueueSet[T]) Empty() bool { return len(q.items) == 0 }

// Len returns the number of elements in the queue
func (q *QueueSet[T]) Len() int { return len(q.items) }

// Contains returns true if x is in the queue
func (q *QueueSet[T]) Contains(x T) bool { return q.present[x] }

// Clear removes all the elements
func (q *QueueSet[T]) Clear() {
	q.items = nil
	q.present = map[T]bool{}
}
