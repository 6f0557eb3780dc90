package fanout

import (
	"context"
	"testing"
)

func TestChatProgressIsTheMinimum(t *testing.T) {
	st := newFakeStorage(1)
	p := NewProgress(st)
	ctx := context.Background()

	st.progress[[2]int64{1, 10}] = 5
	st.progress[[2]int64{1, 11}] = 7
	st.progress[[2]int64{1, 12}] = 3

	got, err := p.ChatProgress(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("ChatProgress = %d, want 3", got)
	}

	delete(st.progress, [2]int64{1, 12})
	got, err = p.ChatProgress(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("ChatProgress after removing the minimum = %d, want 5", got)
	}
}

func TestChatProgressSentinelWhenNoRows(t *testing.T) {
	p := NewProgress(newFakeStorage(1))
	got, err := p.ChatProgress(context.Background(), 99)
	if err != nil {
		t.Fatal(err)
	}
	if got != NoProgress {
		t.Fatalf("ChatProgress on empty chat = %d, want %d", got, NoProgress)
	}
}

func TestProgressMonotonicity(t *testing.T) {
	st := newFakeStorage(1)
	ctx := context.Background()

	for _, candidate := range []int64{5, 3, 5, 1} {
		if _, err := st.UpsertReadProgress(ctx, 1, 10, candidate); err != nil {
			t.Fatal(err)
		}
	}
	if got := st.progress[[2]int64{1, 10}]; got != 5 {
		t.Fatalf("stored progress regressed to %d, want 5", got)
	}
}

func TestUnreadCount(t *testing.T) {
	st := newFakeStorage(1)
	p := NewProgress(st)
	ctx := context.Background()

	// 消息 1..10：奇数是自己（user 10）发的，偶数是别人发的
	for i := 1; i <= 10; i++ {
		author := int64(20)
		if i%2 == 1 {
			author = 10
		}
		if _, err := st.CreateMessage(ctx, 1, author, "m"); err != nil {
			t.Fatal(err)
		}
	}
	st.progress[[2]int64{1, 10}] = 4

	got, err := p.UnreadCount(ctx, 1, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	// ids 5..10 中别人发的：6、8、10
	if got != 3 {
		t.Fatalf("UnreadCount = %d, want 3", got)
	}

	until := int64(8)
	got, err = p.UnreadCount(ctx, 1, 10, &until)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("UnreadCount until 8 = %d, want 2", got)
	}
}

func TestAdvanced(t *testing.T) {
	cases := []struct {
		before, after int64
		want          bool
	}{
		{NoProgress, NoProgress, false},
		{NoProgress, 1, true},
		{3, 3, false},
		{3, 5, true},
		{5, 3, false},
	}
	for _, c := range cases {
		if got := Advanced(c.before, c.after); got != c.want {
			t.Errorf("Advanced(%d, %d) = %v, want %v", c.before, c.after, got, c.want)
		}
	}
}
