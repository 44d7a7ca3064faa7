// Copyright 2025 Tom Barlow
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

// Package actions implements the concrete lifecycle actions: start,
// shutdown and destroy-child.
//
// Each action is registered on an instance's action set, which coalesces
// concurrent registrations with an equal key onto a single execution. The
// action set orders nothing across different keys; where one action depends
// on another (destroy requires shutdown first), the depending action
// registers and awaits the other explicitly as a sub-step.
package actions
