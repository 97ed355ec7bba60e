// Package treemem provides differentiable external memories for sequence
// models: a hierarchical tree memory read by top-down descent and a flat
// cross-attention baseline.
//
// # Tree memory
//
// Setup arranges N stored items as an implicit complete b-ary tree of depth
// k = floor(log_b(N-1)) whose leaves are groups of P = ceil(N/b^k) items. A
// learned aggregator summarizes each group and then each set of siblings
// until the root. Retrieve walks from the root to one leaf group per batch
// element, choosing a child at every level, and cross-attends over the
// rejected siblings of each level plus the final group's raw items:
//
//	mem, _ := treemem.New(treemem.DefaultConfig())
//	_ = mem.Setup(ctx, items, treemem.ModeInference)        // items [B, N, D]
//	res, _ := mem.Retrieve(ctx, query, treemem.ModeInference) // query [B, M, D]
//	_ = res.Embedding                                        // [B, M, D]
//
// # Modes
//
// In ModeTrain children are sampled from the attention policy and the result
// carries the terms needed to train it: the leaf-level embedding (attention
// over every stored item), the policy entropy and the path log-probability.
// A cheap per-level estimator is fitted to the policy on the fly; its loss
// statistics are returned in Result.Losses. In ModeInference children are
// chosen greedily by the estimator or, with WithInferenceScorer(ScorerPolicy),
// by the policy.
//
// # Gradients
//
// Tensors come from the tensor package, which records an autograd graph.
// Call tensor.Backward on a scalar loss, read Parameters, and ZeroGrad
// between steps. Weights can be persisted with the checkpoint package.
package treemem
