package task

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a task: partition Partition of every source topic in subtopology Group
type ID struct {
	Group     int
	Partition int32
}

func (id ID) String() string {
	return strconv.Itoa(id.Group) + "_" + strconv.FormatInt(int64(id.Partition), 10)
}

func (id ID) Less(other ID) bool {
	if id.Group != other.Group {
		return id.Group < other.Group
	}
	return id.Partition < other.Partition
}

// ParseID parses the <group>_<partition> form produced by String
func ParseID(s string) (ID, error) {
	group, partition, ok := strings.Cut(s, "_")
	if !ok {
		return ID{}, fmt.Errorf("invalid task id %q", s)
	}

	g, err := strconv.Atoi(group)
	if err != nil || g < 0 {
		return ID{}, fmt.Errorf("invalid task id %q: bad group", s)
	}
	p, err := strconv.ParseInt(partition, 10, 32)
	if err != nil || p < 0 {
		return ID{}, fmt.Errorf("invalid task id %q: bad partition", s)
	}

	return ID{Group: g, Partition: int32(p)}, nil
}
