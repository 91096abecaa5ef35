package service

// DiffCalculator 计算每局分数的可同步增量
//
// 增量 = 本局分数与已同步基线的差值，再按阻尼系数衰减，
// 防止单局高分一次性冲高链上排行榜
type DiffCalculator struct {
	dampingDivisor int64
}

// NewDiffCalculator 创建增量计算器
func NewDiffCalculator(dampingDivisor int64) *DiffCalculator {
	if dampingDivisor <= 0 {
		dampingDivisor = 2
	}
	return &DiffCalculator{dampingDivisor: dampingDivisor}
}

// DampingDivisor 返回阻尼系数
func (c *DiffCalculator) DampingDivisor() int64 {
	return c.dampingDivisor
}

// Delta 计算阻尼后的可同步增量
//
// baseline 为已同步与待同步分数之和，score 不高于基线时增量为 0
func (c *DiffCalculator) Delta(score, baseline int64) int64 {
	if score <= baseline {
		return 0
	}
	return (score - baseline) / c.dampingDivisor
}
