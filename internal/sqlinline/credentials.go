package sqlinline

// Provider API keys kept in the database so the worker can rotate them without a redeploy.

const QSelectProviderToken = `--sql 3c1f9e0b-5a47-4d2e-9b61-7e0a4c8d2f15
select token
from provider_tokens
where provider = $1::text
  and revoked_at is null
limit 1;
`

const QUpsertProviderToken = `--sql 9e52d7a4-0c1b-4f83-8a6d-51b3e2f4c097
insert into provider_tokens (provider, token, updated_by, created_at, updated_at)
values ($1::text, $2::text, $3::text, now(), now())
on conflict (provider) do update set
    token = excluded.token,
    updated_by = excluded.updated_by,
    revoked_at = null,
    updated_at = now();
`
