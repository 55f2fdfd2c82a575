package board

import "fmt"

// Key and lock-scope pattern helpers
//
// All records are addressed by slash-separated keys, namespaced by team so
// multiple teams can safely share one data directory or Redis server.
//
// Key pattern: team/{team}/{entity}/{id}
// Lock scope pattern: {entity}:{team}[:{id}]

// TaskKey returns the storage key for a task record.
// Pattern: team/{team}/task/{id}
func TaskKey(team string, id int) string {
	return fmt.Sprintf("team/%s/task/%d", team, id)
}

// TaskPrefix returns the key prefix under which a team's tasks live.
func TaskPrefix(team string) string {
	return fmt.Sprintf("team/%s/task/", team)
}

// TaskCounterKey returns the key of the monotonic task id counter.
// Pattern: team/{team}/task.counter
func TaskCounterKey(team string) string {
	return fmt.Sprintf("team/%s/task.counter", team)
}

// InboxKey returns the storage key for an agent's message log.
// Pattern: team/{team}/inbox/{agent_name}
func InboxKey(team, agentName string) string {
	return fmt.Sprintf("team/%s/inbox/%s", team, agentName)
}

// TeamKey returns the storage key for a team's configuration document.
// Pattern: team/{team}/team
func TeamKey(team string) string {
	return fmt.Sprintf("team/%s/team", team)
}

// TasksScope returns the lock scope guarding a team's entire task set.
// The whole read-validate-mutate sequence for a team's graph runs under
// this one scope, so no operation observes a concurrently-mutating peer.
func TasksScope(team string) string {
	return "tasks:" + team
}

// InboxScope returns the lock scope guarding one agent's inbox.
func InboxScope(team, agentName string) string {
	return fmt.Sprintf("inbox:%s:%s", team, agentName)
}

// TeamScope returns the lock scope guarding a team's configuration document.
func TeamScope(team string) string {
	return "team:" + team
}
