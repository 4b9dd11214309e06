package batch

const (
	// growThroughputFloor 吞吐量（条/秒）高于该值才允许扩容
	growThroughputFloor = 100.0
	growSuccessRate     = 0.95
	shrinkSuccessRate   = 0.8
)

// adaptiveSizer 批大小比例控制器，current 始终位于 [min, max]
type adaptiveSizer struct {
	min     int
	max     int
	current int
}

func newAdaptiveSizer(minSize, maxSize int) *adaptiveSizer {
	return &adaptiveSizer{min: minSize, max: maxSize, current: maxSize}
}

// observe 根据一批的吞吐量与成功率调整批大小，返回调整后的值
func (s *adaptiveSizer) observe(throughput, successRate float64) int {
	switch {
	case successRate < shrinkSuccessRate:
		// floor(current * 0.9)
		s.current = s.current * 9 / 10
	case throughput > growThroughputFloor && successRate > growSuccessRate:
		// ceil(current * 1.1)
		s.current = (s.current*11 + 9) / 10
	}
	s.current = s.clamp(s.current)
	return s.current
}

func (s *adaptiveSizer) clamp(n int) int {
	if n < s.min {
		return s.min
	}
	if n > s.max {
		return s.max
	}
	return n
}
