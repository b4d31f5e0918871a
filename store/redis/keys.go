package redis

// Redis key naming conventions. All keys are prefixed with "automation:"
// to avoid collisions.

const keyPrefix = "automation:"

// runKey returns the Hash key for a run entity: automation:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// resultsKey returns the List key holding a run's step results in
// recorded order: automation:results:{id}
func resultsKey(id string) string { return keyPrefix + "results:" + id }

// resultStepsKey returns the Set key of recorded step ids for a run,
// used for the append-only duplicate check: automation:result_steps:{id}
func resultStepsKey(id string) string { return keyPrefix + "result_steps:" + id }

// wakeKey is the Sorted Set indexing sleeping runs by wake time
// (score = unix millis). The scheduler's due scan is one ZRANGEBYSCORE.
const wakeKey = keyPrefix + "wake"

// leaseKey returns the String key for a lease: automation:lease:{key}
func leaseKey(key string) string { return keyPrefix + "lease:" + key }
