package registry

import "sort"

// SortTeamLists stable-sorts every team list ascending by Order. It runs on
// every cycle because Order can change without the record's UpdatedAt moving.
func SortTeamLists(byTeam map[int64][]*Configuration) {
	for _, list := range byTeam {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	}
}
