// Copyright 2025 Poiesic Systems
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

// Package search queries the ingested knowledge base.
//
// The Searcher embeds the query text and runs a similarity search over
// the vector store's chunk payloads. Hits whose text contains every
// significant query word receive a verbatim-match boost before final
// ranking. FormatContext renders ranked results as a context block for
// retrieval-augmented prompting.
package search
