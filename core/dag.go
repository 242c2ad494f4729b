package core

import (
	"fmt"
)

// DetectCycle runs a depth first search rooted at each node in input
// order. It returns the node whose revisit while still on the stack
// closed a cycle.
func DetectCycle(nodes []GraphNode, edges []GraphEdge) (string, bool) {
	adjacency := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		if _, ok := adjacency[node.Id]; !ok {
			adjacency[node.Id] = []string{}
		}
	}
	for _, edge := range edges {
		if next, ok := adjacency[edge.Source]; ok {
			adjacency[edge.Source] = append(next, edge.Target)
		}
	}

	visited := map[string]bool{}
	onStack := map[string]bool{}

	var dfs func(nodeId string) (string, bool)
	dfs = func(nodeId string) (string, bool) {
		if onStack[nodeId] {
			return nodeId, true
		}
		if visited[nodeId] {
			return "", false
		}

		visited[nodeId] = true
		onStack[nodeId] = true

		for _, next := range adjacency[nodeId] {
			if cycleNode, found := dfs(next); found {
				return cycleNode, true
			}
		}

		onStack[nodeId] = false
		return "", false
	}

	for _, node := range nodes {
		if cycleNode, found := dfs(node.Id); found {
			return cycleNode, true
		}
	}

	return "", false
}

// Validate collects every structural problem of the graph. It never
// fails, problems are reported through the result.
func Validate(reg *Registry, nodes []GraphNode, edges []GraphEdge, opts ValidateOpts) ValidationResult {
	errs := []ValidationError{}

	nodeMap := make(map[string]GraphNode, len(nodes))
	for _, node := range nodes {
		if _, exists := nodeMap[node.Id]; exists {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateNodeId,
				NodeId:  node.Id,
				Message: fmt.Sprintf("Duplicate node id '%s'", node.Id),
			})
			continue
		}
		nodeMap[node.Id] = node

		if !reg.IsValidNodeKind(string(node.Kind)) {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownNodeKind,
				NodeId:  node.Id,
				Message: fmt.Sprintf("Unknown node type '%s'", node.Kind),
			})
		}
	}

	if cycleNode, found := DetectCycle(nodes, edges); found {
		errs = append(errs, ValidationError{
			Code:    CodeCycle,
			NodeId:  cycleNode,
			Message: fmt.Sprintf("Cycle detected in workflow (node: %s)", cycleNode),
		})
	}

	incoming := map[string]map[PortId]int{}
	for _, edge := range edges {
		if _, ok := incoming[edge.Target]; !ok {
			incoming[edge.Target] = map[PortId]int{}
		}
		incoming[edge.Target][edge.TargetHandle]++
	}

	reportedMultiple := map[string]bool{}

	for _, edge := range edges {
		sourceNode, sourceOk := nodeMap[edge.Source]
		targetNode, targetOk := nodeMap[edge.Target]

		if !sourceOk || !targetOk {
			errs = append(errs, ValidationError{
				Code:    CodeDanglingEdge,
				EdgeId:  edge.Id,
				Message: "Edge references non-existent node",
			})
			continue
		}

		sourcePort, sourcePortOk := reg.GetPort(sourceNode.Kind, edge.SourceHandle, PortOutput)
		targetPort, targetPortOk := reg.GetPort(targetNode.Kind, edge.TargetHandle, PortInput)

		if !sourcePortOk || !targetPortOk {
			portId := edge.TargetHandle
			if !sourcePortOk {
				portId = edge.SourceHandle
			}
			errs = append(errs, ValidationError{
				Code:    CodeInvalidPort,
				EdgeId:  edge.Id,
				PortId:  portId,
				Message: "Edge references invalid port",
			})
			continue
		}

		if !PortsAreCompatible(sourcePort, targetPort) {
			errs = append(errs, ValidationError{
				Code:    CodeIncompatibleTypes,
				EdgeId:  edge.Id,
				PortId:  targetPort.Id,
				Message: fmt.Sprintf("Incompatible connection: %s → %s", sourcePort.DataType, targetPort.DataType),
			})
		}

		if !targetPort.Multiple && incoming[targetNode.Id][targetPort.Id] > 1 {
			key := targetNode.Id + "\x00" + string(targetPort.Id)
			if !reportedMultiple[key] {
				reportedMultiple[key] = true
				errs = append(errs, ValidationError{
					Code:    CodeMultipleConnectionsNotAllowed,
					NodeId:  targetNode.Id,
					PortId:  targetPort.Id,
					Message: fmt.Sprintf("Input \"%s\" does not allow multiple connections", targetPort.Label),
				})
			}
		}
	}

	if !opts.SkipRequired {
		for _, node := range nodes {
			for _, port := range reg.RequiredInputs(node.Kind) {
				if incoming[node.Id][port.Id] == 0 {
					errs = append(errs, ValidationError{
						Code:    CodeMissingRequiredInput,
						NodeId:  node.Id,
						PortId:  port.Id,
						Message: fmt.Sprintf("Required input \"%s\" is not connected", port.Label),
					})
				}
			}
		}
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// TopologicalSort orders node ids with Kahn's algorithm. Zero in-degree
// nodes are seeded in input order, edges are followed in input order, so
// the result is deterministic. Edges that reference unknown nodes are
// ignored. Fails with ErrCycleDetected if not every node can be ordered.
func TopologicalSort(nodes []GraphNode, edges []GraphEdge) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		inDegree[node.Id] = 0
	}

	outgoing := make(map[string][]string, len(nodes))
	for _, edge := range edges {
		_, sourceOk := inDegree[edge.Source]
		_, targetOk := inDegree[edge.Target]
		if !sourceOk || !targetOk {
			continue
		}
		inDegree[edge.Target]++
		outgoing[edge.Source] = append(outgoing[edge.Source], edge.Target)
	}

	queue := make([]string, 0, len(nodes))
	queued := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if inDegree[node.Id] == 0 && !queued[node.Id] {
			queued[node.Id] = true
			queue = append(queue, node.Id)
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, next := range outgoing[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(inDegree) {
		cycleNode, _ := DetectCycle(nodes, edges)
		return nil, CreateErr(&CycleError{NodeId: cycleNode}, "unable to order workflow")
	}

	return sorted, nil
}
