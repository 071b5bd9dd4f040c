// Copyright 2024 The Matrix.org Foundation C.I.C.
//
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

package internal

import (
	"context"
	"runtime/trace"

	"github.com/opentracing/opentracing-go"
)

// Trace wraps an opentracing span and a runtime/trace task and region,
// so a single call site feeds both systems.
type Trace struct {
	span   opentracing.Span
	region *trace.Region
	task   *trace.Task
}

// StartTask starts a new tracing task, to be ended with EndTask. Use this
// at the boundary of a request or other unit of work.
func StartTask(inCtx context.Context, name string) (Trace, context.Context) {
	ctx, task := trace.NewTask(inCtx, name)
	t := Trace{
		task: task,
	}
	t.span, ctx = opentracing.StartSpanFromContext(ctx, name)
	return t, ctx
}

// StartRegion starts a new tracing region within an existing task, to be
// ended with EndRegion before the enclosing task ends.
func StartRegion(inCtx context.Context, name string) (Trace, context.Context) {
	t := Trace{
		region: trace.StartRegion(inCtx, name),
	}
	var ctx context.Context
	t.span, ctx = opentracing.StartSpanFromContext(inCtx, name)
	return t, ctx
}

// End ends the span, and whichever of the task and region were started.
func (t Trace) End() {
	if t.span != nil {
		t.span.Finish()
	}
	if t.region != nil {
		t.region.End()
	}
	if t.task != nil {
		t.task.End()
	}
}

// EndRegion ends the region, if started.
func (t Trace) EndRegion() {
	if t.span != nil {
		t.span.Finish()
	}
	if t.region != nil {
		t.region.End()
	}
}

// EndTask ends the task, if started.
func (t Trace) EndTask() {
	if t.span != nil {
		t.span.Finish()
	}
	if t.task != nil {
		t.task.End()
	}
}

// SetTag attaches a key/value pair to the trace.
func (t Trace) SetTag(key string, value interface{}) {
	if t.span != nil {
		t.span.SetTag(key, value)
	}
}
