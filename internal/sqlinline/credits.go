package sqlinline

// QDeductCredits returns the new balance, or no row when funds are short.
const QDeductCredits = `--sql 2d7f9a13-6e40-4c8b-a5d1-e9b3c07f4a62
with debit as (
    update user_credits
    set balance = balance - $3::int, updated_at = now()
    where user_id = $1::text
      and balance >= $3::int
    returning balance
),
entry as (
    insert into credit_transactions (user_id, job_id, kind, amount)
    select $1::text, $2::text, 'deduct', $3::int
    from debit
    returning id
)
select balance from debit;
`

// QRefundCredits records at most one refund per job and returns 1 when this
// call performed it.
const QRefundCredits = `--sql a5c0e8f4-9b27-4d61-8f3e-6b1d2a7c90e5
with entry as (
    insert into credit_transactions (user_id, job_id, kind, amount)
    values ($1::text, $2::text, 'refund', $3::int)
    on conflict (job_id, kind) do nothing
    returning amount
),
credit as (
    update user_credits
    set balance = balance + (select amount from entry), updated_at = now()
    where user_id = $1::text
      and exists (select 1 from entry)
    returning balance
)
select count(*)::int from entry;
`

const QSelectBalance = `--sql e19d4c72-0b8a-4f35-b6e2-5a3f8c1d7094
select balance
from user_credits
where user_id = $1::text;
`

const QGrantCredits = `--sql 7b2e5f90-4d1c-4a86-9c3b-0e8f6a2d5c17
insert into user_credits (user_id, balance, updated_at)
values ($1::text, $2::int, now())
on conflict (user_id) do update set
    balance = user_credits.balance + excluded.balance,
    updated_at = now()
returning balance;
`
