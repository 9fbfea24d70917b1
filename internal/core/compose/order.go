package compose

// StartOrder sorts services so that every service starts after the services
// it depends on, using Kahn's algorithm. Cycles are caught at parse time; if
// one slips through, the remaining services are appended as a fallback so the
// stack still starts.
func StartOrder(services []Service) []Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	var result []Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) < len(services) {
		present := make(map[string]bool, len(result))
		for _, r := range result {
			present[r.Name] = true
		}
		for _, svc := range services {
			if !present[svc.Name] {
				result = append(result, svc)
			}
		}
	}
	return result
}

// StopOrder is the reverse of StartOrder: dependents stop before the
// services they depend on.
func StopOrder(services []Service) []Service {
	ordered := StartOrder(services)
	reversed := make([]Service, len(ordered))
	for i, svc := range ordered {
		reversed[len(ordered)-1-i] = svc
	}
	return reversed
}
