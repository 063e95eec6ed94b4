package strategy

import "math"

// RootAction 根节点的动作标签
const RootAction = "ROOT"

// DefaultExploration UCB1 探索系数（约为 sqrt(2)）
const DefaultExploration = 1.414

const noParent = -1

// Node 搜索树节点。访问计数与累计奖励只通过 Backpropagate 修改。
type Node struct {
	ID          int
	Parent      int
	Action      string
	Children    []int
	Visits      int
	TotalReward float64
	Untried     []string
}

// AvgReward 平均奖励，未访问时为 0
func (n *Node) AvgReward() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.TotalReward / float64(n.Visits)
}

// IsLeaf 没有子节点也没有未尝试动作
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0 && len(n.Untried) == 0
}

// Tree 节点数组；父子关系全部用下标表示
type Tree struct {
	nodes       []Node
	exploration float64
}

// NewTree 创建只含根节点的树，actions 为根的未尝试动作
func NewTree(actions []string, exploration float64) *Tree {
	if exploration <= 0 {
		exploration = DefaultExploration
	}
	root := Node{
		ID:      0,
		Parent:  noParent,
		Action:  RootAction,
		Untried: append([]string(nil), actions...),
	}
	return &Tree{nodes: []Node{root}, exploration: exploration}
}

// Root 返回根节点
func (t *Tree) Root() *Node {
	return &t.nodes[0]
}

// Node 按下标取节点。返回的指针在下一次 Expand 之后失效。
func (t *Tree) Node(id int) *Node {
	return &t.nodes[id]
}

// Len 节点数
func (t *Tree) Len() int {
	return len(t.nodes)
}

// UCB1 = avg + C * sqrt(ln(parent.visits) / visits)。未访问或无父节点时为 +Inf。
func (t *Tree) UCB1(id int) float64 {
	n := &t.nodes[id]
	if n.Visits == 0 || n.Parent == noParent {
		return math.Inf(1)
	}
	parentVisits := t.nodes[n.Parent].Visits
	exploration := t.exploration * math.Sqrt(math.Log(float64(parentVisits))/float64(n.Visits))
	return n.AvgReward() + exploration
}

// Select 从 id 开始，在没有未尝试动作且有子节点时持续下降到 UCB1 最大的子节点。
// 分数相同取先扩展的子节点。
func (t *Tree) Select(id int) int {
	for {
		n := &t.nodes[id]
		if len(n.Untried) > 0 || len(n.Children) == 0 {
			return id
		}
		best, bestScore := n.Children[0], math.Inf(-1)
		for _, c := range n.Children {
			if s := t.UCB1(c); s > bestScore {
				best, bestScore = c, s
			}
		}
		id = best
	}
}

// Expand 弹出最后一个未尝试动作（LIFO）并创建子节点
func (t *Tree) Expand(id int) (int, bool) {
	n := &t.nodes[id]
	if len(n.Untried) == 0 {
		return id, false
	}
	last := len(n.Untried) - 1
	action := n.Untried[last]
	n.Untried = n.Untried[:last]

	child := len(t.nodes)
	n.Children = append(n.Children, child)
	// append 可能搬迁底层数组，n 在此之后不再使用
	t.nodes = append(t.nodes, Node{ID: child, Parent: id, Action: action})
	return child, true
}

// Backpropagate 沿父链直到根，每个节点 visits+1 并累加 reward
func (t *Tree) Backpropagate(id int, reward float64) {
	for id != noParent {
		n := &t.nodes[id]
		n.Visits++
		n.TotalReward += reward
		id = n.Parent
	}
}

// MostVisitedChild 访问次数最多的子节点，平手取先扩展的
func (t *Tree) MostVisitedChild(id int) (int, bool) {
	n := &t.nodes[id]
	if len(n.Children) == 0 {
		return id, false
	}
	best := n.Children[0]
	for _, c := range n.Children[1:] {
		if t.nodes[c].Visits > t.nodes[best].Visits {
			best = c
		}
	}
	return best, true
}
